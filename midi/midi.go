//go:build cgo

// Package midi feeds MIDI input into the engine parameter table, so
// recipes can listen to a keyboard or controller through param() reads:
// "note" and "freq" follow the last note on, "gate" is 1 while any note
// is held, "vel" is the last velocity and "cc<n>" tracks controller n,
// all normalized to [0, 1] except note and freq.
package midi

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ParamSink is where decoded messages land. *engine.Engine satisfies it.
type ParamSink interface {
	SetParam(name string, value float64)
}

type Context struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
	sink   ParamSink
	held   int
}

// NewContext opens the rtmidi driver. A machine without one gets a
// context that cannot open devices but is otherwise safe to use.
func NewContext(sink ParamSink) *Context {
	c := &Context{sink: sink}
	c.driver, _ = rtmididrv.New()
	return c
}

// TryToOpenBy opens the first input device whose name has the given
// prefix, or simply the first device when takeFirst is set.
func (c *Context) TryToOpenBy(namePrefix string, takeFirst bool) error {
	if c.driver == nil {
		return errors.New("midi: no driver available")
	}
	ins, err := c.driver.Ins()
	if err != nil {
		return fmt.Errorf("midi: cannot list inputs: %w", err)
	}
	for _, in := range ins {
		if takeFirst || strings.HasPrefix(in.String(), namePrefix) {
			return c.open(in)
		}
	}
	return fmt.Errorf("midi: no input matching %q", namePrefix)
}

func (c *Context) open(in drivers.In) error {
	if err := in.Open(); err != nil {
		return fmt.Errorf("midi: opening %s failed: %w", in, err)
	}
	stop, err := midi.ListenTo(in, c.handleMessage)
	if err != nil {
		in.Close()
		return fmt.Errorf("midi: listening to %s failed: %w", in, err)
	}
	c.in = in
	c.stop = stop
	return nil
}

func (c *Context) DeviceOpen() bool { return c.in != nil && c.in.IsOpen() }

func (c *Context) Close() {
	if c.stop != nil {
		c.stop()
	}
	if c.in != nil && c.in.IsOpen() {
		c.in.Close()
	}
	if c.driver != nil {
		c.driver.Close()
	}
}

func (c *Context) handleMessage(msg midi.Message, timestampms int32) {
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &vel) && vel > 0:
		c.held++
		c.sink.SetParam("note", float64(key))
		c.sink.SetParam("freq", noteFreq(key))
		c.sink.SetParam("vel", float64(vel)/127)
		c.sink.SetParam("gate", 1)
	// a note on with zero velocity is a note off by MIDI convention
	case msg.GetNoteOff(&ch, &key, &vel), msg.GetNoteOn(&ch, &key, &vel):
		if c.held > 0 {
			c.held--
		}
		if c.held == 0 {
			c.sink.SetParam("gate", 0)
		}
	case msg.GetControlChange(&ch, &cc, &val):
		c.sink.SetParam(fmt.Sprintf("cc%d", cc), float64(val)/127)
	}
}

// noteFreq converts a MIDI note number to Hz, equal temperament, A4=440.
func noteFreq(key uint8) float64 {
	return 440 * math.Pow(2, (float64(key)-69)/12)
}
