//go:build !cgo

package main

import (
	"errors"

	"github.com/kaiku-audio/kaiku/engine"
)

type nullMidiContext struct{}

func (nullMidiContext) TryToOpenBy(string, bool) error {
	// rtmidi needs cgo; without it there is no MIDI
	return errors.New("midi support not compiled in")
}

func (nullMidiContext) Close() {}

func newMidiContext(eng *engine.Engine) midiContext {
	return nullMidiContext{}
}
