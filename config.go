package kaiku

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration. Zero-valued fields fall back to
// the defaults, so a config file only needs to name what it changes.
type Config struct {
	SampleRate  int     `yaml:"samplerate"`
	Channels    int     `yaml:"channels"`
	RingFrames  int     `yaml:"ringframes"`  // ring buffer capacity, in frames
	BurstFrames int     `yaml:"burstframes"` // frames rendered per generation burst
	MaxSignals  int     `yaml:"maxsignals"`  // arena signal table size
	SignalSlots int     `yaml:"signalslots"` // arena slots per signal block
	HelperSlots int     `yaml:"helperslots"` // helper pool capacity, in slots
	FadeMillis  int     `yaml:"fademillis"`  // crossfade window
	MasterGain  float64 `yaml:"mastergain"`
	ControlAddr string  `yaml:"controladdr"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:  48000,
		Channels:    2,
		RingFrames:  4096,
		BurstFrames: 512,
		MaxSignals:  64,
		SignalSlots: 32,
		HelperSlots: 1 << 20,
		FadeMillis:  10,
		MasterGain:  1,
		ControlAddr: "127.0.0.1:7770",
	}
}

// LoadConfig reads a YAML config file and fills unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	var c Config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("could not read config %v: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("could not parse config %v: %w", path, err)
	}
	c.FillDefaults()
	return c, nil
}

func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.Channels <= 0 {
		c.Channels = def.Channels
	}
	if c.RingFrames <= 0 {
		c.RingFrames = def.RingFrames
	}
	if c.BurstFrames <= 0 {
		c.BurstFrames = def.BurstFrames
	}
	if c.MaxSignals <= 0 {
		c.MaxSignals = def.MaxSignals
	}
	if c.SignalSlots <= 0 {
		c.SignalSlots = def.SignalSlots
	}
	if c.HelperSlots <= 0 {
		c.HelperSlots = def.HelperSlots
	}
	if c.FadeMillis <= 0 {
		c.FadeMillis = def.FadeMillis
	}
	if c.MasterGain <= 0 {
		c.MasterGain = def.MasterGain
	}
	if c.ControlAddr == "" {
		c.ControlAddr = def.ControlAddr
	}
}
