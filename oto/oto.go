//go:build cgo || !linux

// Package oto adapts a kaiku audio source to the oto/v3 playback library,
// which pulls float32 little-endian bytes through an io.Reader.
package oto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	oto "github.com/ebitengine/oto/v3"

	"github.com/kaiku-audio/kaiku"
)

type Context struct {
	ctx     *oto.Context
	players []*oto.Player
}

// NewContext opens the default audio device and waits for it to become
// ready. There can be only one oto context per process.
func NewContext(sampleRate, channels int) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, errors.New("oto: audio device did not become ready")
	}
	return &Context{ctx: ctx}, nil
}

// Play starts pulling audio from src on the device's own schedule.
func (c *Context) Play(src kaiku.AudioSource) error {
	p := c.ctx.NewPlayer(&sourceReader{src: src})
	p.Play()
	c.players = append(c.players, p)
	return nil
}

// Close stops all players. The underlying oto context cannot be closed;
// it lives until the process exits.
func (c *Context) Close() error {
	var first error
	for _, p := range c.players {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.players = nil
	return first
}

// sourceReader converts pulled samples to the byte stream oto consumes.
// A short or empty pull is padded with silence so the reader never
// returns zero bytes and never blocks the device callback.
type sourceReader struct {
	src kaiku.AudioSource
	buf []float32
}

func (r *sourceReader) Read(p []byte) (int, error) {
	n := len(p) / 4
	if cap(r.buf) < n {
		r.buf = make([]float32, n)
	}
	buf := r.buf[:n]
	got := r.src.ReadAudio(buf)
	for i := 0; i < got; i++ {
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(buf[i]))
	}
	for i := 4 * got; i < 4*n; i++ {
		p[i] = 0
	}
	return 4 * n, nil
}
