//go:build cgo

package main

import (
	"github.com/kaiku-audio/kaiku/engine"
	"github.com/kaiku-audio/kaiku/midi"
)

func newMidiContext(eng *engine.Engine) midiContext {
	return midi.NewContext(eng)
}
