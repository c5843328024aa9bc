//go:build cgo

// Package portaudio adapts a kaiku audio source to the PortAudio callback
// API via the gordonklaus bindings. Unlike the oto backend it needs the
// PortAudio C library installed, but it offers lower and more predictable
// latency.
package portaudio

import (
	"fmt"

	pa "github.com/gordonklaus/portaudio"

	"github.com/kaiku-audio/kaiku"
)

type Context struct {
	streams []*pa.Stream
}

const framesPerBuffer = 512

func NewContext() (*Context, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("cannot initialize portaudio: %w", err)
	}
	return &Context{}, nil
}

// Play opens a stream on the default output device and starts pulling
// interleaved float32 samples from src in the device callback.
func (c *Context) Play(src kaiku.AudioSource) error {
	stream, err := pa.OpenDefaultStream(
		0, src.Channels(),
		float64(src.SampleRate()),
		framesPerBuffer,
		func(out []float32) {
			n := src.ReadAudio(out)
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		},
	)
	if err != nil {
		return fmt.Errorf("cannot open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("cannot start portaudio stream: %w", err)
	}
	c.streams = append(c.streams, stream)
	return nil
}

func (c *Context) Close() error {
	var first error
	for _, s := range c.streams {
		if err := s.Stop(); err != nil && first == nil {
			first = err
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.streams = nil
	if err := pa.Terminate(); err != nil && first == nil {
		first = err
	}
	return first
}
