//go:build !cgo && linux

package main

import (
	"errors"

	"github.com/kaiku-audio/kaiku"
)

func newOtoContext(sampleRate, channels int) (kaiku.AudioContext, error) {
	// oto needs cgo for ALSA on linux; without it there is no oto backend
	return nil, errors.New("oto backend not compiled in")
}
