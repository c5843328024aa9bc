package engine

import (
	"log"
	"time"

	"github.com/viterin/vek/vek32"
)

// outputState is the consumer-side bookkeeping of the audio callback:
// scratch for one frame, peak metering, and rate-limited trouble logs.
// It is touched only by the output adapter's goroutine.
type outputState struct {
	frame     []float64
	peak      float32
	underruns int64
	lastLog   int64
	clips     int64
	lastClip  int64
}

const outputLogInterval = int64(time.Second)

// ReadAudio drains the ring buffer into the adapter's buffer, interleaved
// float32. It never blocks: when the generation loop falls behind, the
// remainder of buf is filled with silence and the underrun is counted.
// This is what the output adapters pull from, so it satisfies
// kaiku.AudioSource together with SampleRate and Channels.
func (e *Engine) ReadAudio(buf []float32) int {
	stride := e.ring.Stride()
	if e.out.frame == nil {
		e.out.frame = make([]float64, stride)
	}
	n := len(buf) / stride * stride
	filled := 0
	for filled < n {
		if !e.ring.Read(e.out.frame) {
			e.out.underruns++
			if now := time.Now().UnixNano(); now-e.out.lastLog > outputLogInterval {
				e.out.lastLog = now
				log.Printf("engine: output underrun, %d so far", e.out.underruns)
			}
			for i := filled; i < n; i++ {
				buf[i] = 0
			}
			filled = n
			break
		}
		for i, v := range e.out.frame {
			buf[filled+i] = float32(v)
		}
		filled += stride
	}
	if filled > 0 {
		chunk := buf[:filled]
		hi := vek32.Max(chunk)
		if lo := -vek32.Min(chunk); lo > hi {
			hi = lo
		}
		if hi > e.out.peak {
			e.out.peak = hi
		}
		// the limiter keeps samples inside (-1, 1); a peak this close to
		// the rail means the mix is being squashed hard
		if hi > 0.999 {
			e.out.clips++
			if now := time.Now().UnixNano(); now-e.out.lastClip > outputLogInterval {
				e.out.lastClip = now
				log.Printf("engine: output saturating the limiter, %d buffers so far", e.out.clips)
			}
		}
	}
	return filled
}

func (e *Engine) SampleRate() int { return e.cfg.SampleRate }
func (e *Engine) Channels() int   { return e.cfg.Channels }

// Peak returns the highest absolute sample value seen on the output since
// the last call and resets the meter.
func (e *Engine) Peak() float32 {
	p := e.out.peak
	e.out.peak = 0
	return p
}

// Underruns reports how many output pulls found the ring buffer empty.
func (e *Engine) Underruns() int64 { return e.out.underruns }
