// Package ring implements the lock-free single-producer single-consumer
// frame queue between the generation loop and the output adapter.
package ring

import (
	"log"
	"sync/atomic"
	"time"
)

// Buffer is a bounded queue of interleaved multi-channel float64 frames.
// head is written only by the producer, tail only by the consumer; each
// side reads the other cursor with an atomic load. One slot is permanently
// reserved empty to disambiguate a full buffer from an empty one.
//
// Overflow (Write on a full buffer) drops the new frame; underrun (Read on
// an empty buffer) yields silence. Both are expected steady-state
// conditions under transient load, not errors.
type Buffer struct {
	data     []float64
	capacity int // frames, including the reserved slot
	stride   int

	head atomic.Int64 // next frame index to write, in [0, capacity)
	tail atomic.Int64 // next frame index to read, in [0, capacity)

	// overflow accounting, touched only by the producer
	drops       int64
	lastDropLog int64 // unix nanos of the last overflow log line
}

const dropLogInterval = int64(time.Second)

// New returns a buffer holding up to frames-1 frames of stride samples.
func New(frames, stride int) *Buffer {
	if frames < 2 {
		frames = 2
	}
	return &Buffer{
		data:     make([]float64, frames*stride),
		capacity: frames,
		stride:   stride,
	}
}

func (b *Buffer) Stride() int { return b.stride }

// Write publishes one frame. It returns false without blocking if the
// buffer is full; the frame is dropped and the overflow is counted and
// logged at most once per second.
func (b *Buffer) Write(frame []float64) bool {
	h := b.head.Load()
	next := h + 1
	if next == int64(b.capacity) {
		next = 0
	}
	if next == b.tail.Load() {
		b.drops++
		if now := time.Now().UnixNano(); now-b.lastDropLog > dropLogInterval {
			b.lastDropLog = now
			log.Printf("ring: overflow, %d frames dropped so far", b.drops)
		}
		return false
	}
	copy(b.data[h*int64(b.stride):(h+1)*int64(b.stride)], frame[:b.stride])
	b.head.Store(next)
	return true
}

// Read pops one frame into out. It returns false without blocking if the
// buffer is empty, leaving out set to silence.
func (b *Buffer) Read(out []float64) bool {
	t := b.tail.Load()
	if t == b.head.Load() {
		for i := 0; i < b.stride; i++ {
			out[i] = 0
		}
		return false
	}
	copy(out[:b.stride], b.data[t*int64(b.stride):(t+1)*int64(b.stride)])
	next := t + 1
	if next == int64(b.capacity) {
		next = 0
	}
	b.tail.Store(next)
	return true
}

// Frames reports how many frames are buffered.
func (b *Buffer) Frames() int {
	d := b.head.Load() - b.tail.Load()
	if d < 0 {
		d += int64(b.capacity)
	}
	return int(d)
}

// Free reports how many frames can be written before the buffer is full.
func (b *Buffer) Free() int {
	return b.capacity - 1 - b.Frames()
}

// Drops reports the number of frames dropped to overflow.
func (b *Buffer) Drops() int64 { return b.drops }
