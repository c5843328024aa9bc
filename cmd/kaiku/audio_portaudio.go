//go:build cgo

package main

import (
	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/portaudio"
)

func newPortaudioContext() (kaiku.AudioContext, error) {
	return portaudio.NewContext()
}
