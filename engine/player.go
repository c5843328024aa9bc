package engine

import (
	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/vm"
)

type (
	// Player renders one registered signal. It wraps either a compiled
	// update routine or the raw uncompiled fallback, and carries the
	// crossfade bookkeeping the conductor mixes it with. Compiled players
	// are memoized by (id, tree hash) and reused verbatim, arena offset
	// and therefore phase included.
	Player struct {
		id     string
		hash   uint64
		update vm.UpdateFn   // compiled path
		raw    kaiku.RawFunc // fallback path; exactly one of update/raw is set
		base   int           // arena block offset, stable per id

		born      int64   // chronos when the player (re)entered the mix
		fadeStart int64   // chronos when fade-out began; -1 while active
		fadeFrom  float32 // volume at the moment fade-out began
		failed    bool    // evicted after a runtime panic; stays out for the session
	}

	playerKey struct {
		id   string
		hash uint64
	}
)

// volume returns the player's crossfade volume at the given sample count.
// Both ramps are linear and measured in elapsed samples, not wall-clock,
// so they are independent of scheduling jitter. A fading player's volume
// is non-increasing and reaches exactly zero within the fade window.
func (p *Player) volume(now, fadeSamples int64) float32 {
	if p.fadeStart >= 0 {
		n := now - p.fadeStart
		v := float64(p.fadeFrom) * (1 - float64(n)/float64(fadeSamples))
		if v <= 0 {
			return 0
		}
		return float32(v)
	}
	n := now - p.born
	if n >= fadeSamples {
		return 1
	}
	if n < 0 {
		return 0
	}
	return float32(n) / float32(fadeSamples)
}
