// Package engine owns the conductor: the registry of live players, the
// per-sample mixing loop, and the hot-swap state machine that crossfades
// old and new versions of a signal. All registry and arena mutation
// happens on the generation goroutine; the control path only posts
// messages to the command mailbox, so the audio path needs no locks.
package engine

import (
	"errors"
	"log"
	"math"
	"time"

	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/arena"
	"github.com/kaiku-audio/kaiku/ring"
	"github.com/kaiku-audio/kaiku/vm"
)

type (
	// Engine holds the whole synthesis state: arena, helper pool, ring
	// buffer and registries, passed by reference to the few entry points
	// that need it. There is no ambient global state.
	Engine struct {
		cfg    kaiku.Config
		arena  *arena.Arena
		pool   *arena.Pool
		ring   *ring.Buffer
		params *kaiku.Params

		commands chan any
		quit     chan struct{}
		done     chan struct{}

		// everything below is owned by the generation goroutine
		chronos   int64   // authoritative sample clock, monotonic
		timeShift float64 // set by position-setting; t = chronos*dt + timeShift
		dt        float64
		fade      int64 // crossfade window in samples
		active    map[string]*Player
		fading    []*Player
		cache     map[playerKey]*Player
		mix       []float64
		scratch   []float64
		frame     []float64
		st        vm.State
		needSweep bool

		out outputState
	}

	registerMsg struct {
		id    string
		roots []*kaiku.Expr
		hash  uint64
		raw   kaiku.RawFunc
	}
	unregisterMsg struct{ id string }
	clearMsg      struct{}
	setTimeMsg    struct{ seconds float64 }
)

func New(cfg kaiku.Config) *Engine {
	cfg.FillDefaults()
	a := arena.New(cfg.MaxSignals, cfg.SignalSlots)
	p := arena.NewPool(cfg.HelperSlots)
	e := &Engine{
		cfg:      cfg,
		arena:    a,
		pool:     p,
		ring:     ring.New(cfg.RingFrames, cfg.Channels),
		params:   kaiku.NewParams(),
		commands: make(chan any, 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		dt:       1 / float64(cfg.SampleRate),
		fade:     int64(cfg.FadeMillis) * int64(cfg.SampleRate) / 1000,
		active:   make(map[string]*Player),
		cache:    make(map[playerKey]*Player),
		mix:      make([]float64, cfg.Channels),
		scratch:  make([]float64, cfg.Channels),
		frame:    make([]float64, cfg.Channels),
		st:       vm.State{Arena: a.Slots(), Pool: p.PoolSlots()},
	}
	if e.fade < 1 {
		e.fade = 1
	}
	return e
}

func (e *Engine) Config() kaiku.Config  { return e.cfg }
func (e *Engine) Params() *kaiku.Params { return e.params }

// Register traces the recipe and schedules a hot swap under id. A recipe
// that defeats tracing falls back to direct per-sample evaluation.
func (e *Engine) Register(id string, recipe kaiku.Recipe) error {
	roots, err := vm.Trace(recipe)
	if errors.Is(err, vm.ErrTrace) {
		log.Printf("engine: %q: %v; falling back to direct evaluation", id, err)
		return e.RegisterRaw(id, vm.Direct(recipe, e.params))
	}
	if err != nil {
		return err
	}
	return e.RegisterTraced(id, roots)
}

// RegisterTraced schedules a hot swap under id for an already-traced tree.
func (e *Engine) RegisterTraced(id string, roots []*kaiku.Expr) error {
	return e.post(registerMsg{id: id, roots: roots, hash: vm.HashTree(roots)})
}

// RegisterRaw schedules a hot swap under id for an uncompiled fallback
// function. Raw players are never memoized: without a tree there is
// nothing to hash.
func (e *Engine) RegisterRaw(id string, raw kaiku.RawFunc) error {
	return e.post(registerMsg{id: id, raw: raw})
}

// Unregister fades the signal out and retires it. Non-blocking and soft:
// the audio loop retires the binding after its fade window.
func (e *Engine) Unregister(id string) error { return e.post(unregisterMsg{id: id}) }

// Clear fades out every signal.
func (e *Engine) Clear() error { return e.post(clearMsg{}) }

// SetParam stores a named value readable by recipes. It writes a single
// atomic cell and takes effect on the next sample.
func (e *Engine) SetParam(name string, value float64) { e.params.Set(name, value) }

// SetTime jumps the musical time recipes observe. Compiled oscillators
// are phase-continuous across the jump by construction.
func (e *Engine) SetTime(seconds float64) error { return e.post(setTimeMsg{seconds: seconds}) }

// post delivers a command to the generation loop without ever blocking;
// a full mailbox drops the command, favoring latency over acknowledgment.
func (e *Engine) post(msg any) error {
	select {
	case e.commands <- msg:
		return nil
	default:
		log.Printf("engine: command mailbox full, dropping %T", msg)
		return errors.New("engine: command mailbox full")
	}
}

// Run drives the generation loop until Close. It renders in bursts and
// never blocks on the output adapter: when the ring is full it simply
// sleeps out the scheduling quantum and resumes.
func (e *Engine) Run() {
	defer close(e.done)
	quantum := time.Duration(e.cfg.BurstFrames) * time.Second / time.Duration(e.cfg.SampleRate) / 2
	for {
		select {
		case <-e.quit:
			return
		default:
		}
		if e.Advance(e.cfg.BurstFrames) == 0 {
			time.Sleep(quantum)
		}
	}
}

// Close stops the generation loop and waits for it to finish.
func (e *Engine) Close() {
	select {
	case <-e.quit:
	default:
		close(e.quit)
	}
	select {
	case <-e.done:
	case <-time.After(3 * time.Second):
		log.Print("engine: generation loop did not stop in time")
	}
}

// Advance processes pending commands and renders up to max frames into
// the ring buffer, stopping early when the ring is full. It returns the
// number of frames rendered. It must only be called from the generation
// goroutine; tests drive it directly instead of Run.
func (e *Engine) Advance(max int) int {
	e.processCommands()
	n := e.ring.Free()
	if max < n {
		n = max
	}
	for i := 0; i < n; i++ {
		e.renderFrame()
	}
	return n
}

func (e *Engine) processCommands() {
	for {
		select {
		case msg := <-e.commands:
			switch m := msg.(type) {
			case registerMsg:
				e.handleRegister(m)
			case unregisterMsg:
				if p := e.active[m.id]; p != nil {
					e.beginFade(p)
					delete(e.active, m.id)
				}
			case clearMsg:
				for id, p := range e.active {
					e.beginFade(p)
					delete(e.active, id)
				}
			case setTimeMsg:
				e.timeShift = m.seconds - float64(e.chronos)*e.dt
			}
		default:
			return
		}
	}
}

func (e *Engine) handleRegister(m registerMsg) {
	var p *Player
	if m.raw == nil {
		if cached, ok := e.cache[playerKey{m.id, m.hash}]; ok && !cached.failed {
			p = cached
		}
	}
	if p == nil {
		base, err := e.arena.ClaimSignal(m.id)
		if err != nil {
			log.Printf("engine: cannot register %q: %v", m.id, err)
			return
		}
		p = &Player{id: m.id, hash: m.hash, base: base}
		if m.raw != nil {
			p.raw = m.raw
		} else {
			prog, err := vm.Compile(m.roots, vm.Options{
				SignalID:   m.id,
				MaxPhases:  e.cfg.SignalSlots,
				SampleRate: e.cfg.SampleRate,
				Pool:       e.pool,
				Params:     e.params,
			})
			if err != nil {
				log.Printf("engine: cannot compile %q: %v", m.id, err)
				return
			}
			for _, w := range prog.Warnings {
				log.Printf("engine: compile %q: %s", m.id, w)
			}
			p.update = prog.Update
			e.cache[playerKey{m.id, m.hash}] = p
		}
	}
	old := e.active[m.id]
	if old == p {
		return // identical recipe re-registered: reuse verbatim, no fade
	}
	if old != nil {
		e.beginFade(old)
	}
	// a player re-registered while fading out returns to the mix, ramping
	// up from wherever its volume currently is
	cur := float64(p.volume(e.chronos, e.fade))
	e.dropFromFading(p)
	p.fadeStart = -1
	p.born = e.chronos - int64(cur*float64(e.fade))
	e.active[m.id] = p
}

func (e *Engine) beginFade(p *Player) {
	p.fadeFrom = p.volume(e.chronos, e.fade)
	p.fadeStart = e.chronos
	e.fading = append(e.fading, p)
}

func (e *Engine) dropFromFading(p *Player) {
	for i, q := range e.fading {
		if q == p {
			e.fading = append(e.fading[:i], e.fading[i+1:]...)
			return
		}
	}
}

// renderFrame runs the mixing algorithm for one sample: an all-zero
// channel vector, every active and fading player accumulated at its
// crossfade volume, a tanh limiter per channel, and the frame handed to
// the ring buffer. The caller has checked that the ring has space.
func (e *Engine) renderFrame() {
	for c := range e.mix {
		e.mix[c] = 0
	}
	now := e.chronos
	t := float64(now)*e.dt + e.timeShift
	for _, p := range e.active {
		e.runPlayer(p, t, p.volume(now, e.fade))
	}
	for _, p := range e.fading {
		vol := p.volume(now, e.fade)
		if vol <= 0 {
			e.needSweep = true
			continue
		}
		e.runPlayer(p, t, vol)
	}
	gain := e.cfg.MasterGain
	for c := range e.frame {
		e.frame[c] = math.Tanh(e.mix[c] * gain)
	}
	e.ring.Write(e.frame)
	e.chronos++
	if e.needSweep {
		e.sweep()
		e.needSweep = false
	}
}

// runPlayer invokes one player's update function, isolating any panic to
// this signal: the player is evicted for the session and the rest of the
// mix is never disturbed.
func (e *Engine) runPlayer(p *Player, t float64, vol float32) {
	defer func() {
		if r := recover(); r != nil {
			p.failed = true
			e.needSweep = true
			log.Printf("engine: signal %q raised during mixing, evicting: %v", p.id, r)
		}
	}()
	if p.update != nil {
		e.st.Base = p.base
		p.update(&e.st, t, e.dt, e.scratch)
	} else {
		p.raw(t, e.scratch)
	}
	v := float64(vol)
	for c := range e.mix {
		e.mix[c] += v * e.scratch[c]
	}
}

// sweep retires players that finished fading or failed, and reclaims a
// signal's arena block and helper blocks once no binding under its id is
// left in either registry.
func (e *Engine) sweep() {
	for id, p := range e.active {
		if p.failed {
			delete(e.active, id)
			e.release(id)
		}
	}
	kept := e.fading[:0]
	var retired []*Player
	for _, p := range e.fading {
		if !p.failed && p.volume(e.chronos, e.fade) > 0 {
			kept = append(kept, p)
			continue
		}
		retired = append(retired, p)
	}
	for i := len(kept); i < len(e.fading); i++ {
		e.fading[i] = nil
	}
	// shrink the registry before releasing, so the membership check in
	// release does not see the players being retired
	e.fading = kept
	for _, p := range retired {
		e.release(p.id)
	}
}

func (e *Engine) release(id string) {
	if _, ok := e.active[id]; ok {
		return
	}
	for _, p := range e.fading {
		if p.id == id {
			return
		}
	}
	e.pool.ReleaseSignal(id)
	e.arena.ReleaseSignal(id)
	for key := range e.cache {
		if key.id == id {
			delete(e.cache, key)
		}
	}
}

// Live reports how many signals are currently audible (active or fading).
func (e *Engine) Live() int { return len(e.active) + len(e.fading) }
