//go:build !cgo

package main

import (
	"errors"

	"github.com/kaiku-audio/kaiku"
)

func newPortaudioContext() (kaiku.AudioContext, error) {
	// the portaudio bindings need cgo; without it there is no portaudio backend
	return nil, errors.New("portaudio backend not compiled in")
}
