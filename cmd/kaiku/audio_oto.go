//go:build cgo || !linux

package main

import (
	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/oto"
)

func newOtoContext(sampleRate, channels int) (kaiku.AudioContext, error) {
	return oto.NewContext(sampleRate, channels)
}
