// Package config persists local settings as TOML in the user config directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/james-see/patchbay/pkg/transport"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the persisted settings file.
type Config struct {
	Audio     AudioConfig     `toml:"audio"`
	Transport TransportConfig `toml:"transport"`
	MIDI      MIDIConfig      `toml:"midi"`
	API       APIConfig       `toml:"api"`
	Log       LogConfig       `toml:"log"`
}

type AudioConfig struct {
	SampleRate float64 `toml:"sample_rate"`
}

type TransportConfig struct {
	BPM           float64 `toml:"bpm"`
	TimeSignature [2]int  `toml:"time_signature"`
}

// MIDIConfig names the controller the device setup last chose. Names are
// matched exactly first, then fuzzily, so a port renamed by the OS still
// resolves.
type MIDIConfig struct {
	PollInterval     string  `toml:"poll_interval"` // e.g. "1s"
	ControllerInput  string  `toml:"controller_input"`
	ControllerOutput string  `toml:"controller_output"`
	FuzzyThreshold   float64 `toml:"fuzzy_threshold"`
}

type APIConfig struct {
	Port int `toml:"port"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the settings a fresh install starts with.
func Default() *Config {
	return &Config{
		Audio:     AudioConfig{SampleRate: 48000},
		Transport: TransportConfig{BPM: 120, TimeSignature: [2]int{4, 4}},
		MIDI:      MIDIConfig{PollInterval: "1s", FuzzyThreshold: 0.6},
		API:       APIConfig{Port: 8080},
		Log:       LogConfig{Level: "info"},
	}
}

// DefaultPath is config.toml under the OS config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "patchbay", "config.toml"), nil
}

// Load reads path. Keys missing from the file keep their defaults. A missing
// file returns an error wrapping os.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Save writes c to path, creating the directory if needed.
func Save(path string, c *Config) error {
	if c == nil {
		return errors.New("nil config")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadOrCreate loads path, writing the defaults there first if the file
// does not exist. created reports whether it did.
func LoadOrCreate(path string) (c *Config, created bool, err error) {
	c, err = Load(path)
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	c = Default()
	if err := Save(path, c); err != nil {
		return nil, false, fmt.Errorf("create %s: %w", path, err)
	}
	return c, true, nil
}

// Validate checks ranges and that string-encoded values parse.
func (c *Config) Validate() error {
	switch {
	case c.Audio.SampleRate <= 0:
		return fmt.Errorf("sample_rate %v: %w", c.Audio.SampleRate, ErrInvalid)
	case c.Transport.BPM <= 0:
		return fmt.Errorf("bpm %v: %w", c.Transport.BPM, ErrInvalid)
	case transport.TimeSignature(c.Transport.TimeSignature).Validate() != nil:
		return fmt.Errorf("time_signature %v: %w", c.Transport.TimeSignature, ErrInvalid)
	case c.MIDI.FuzzyThreshold < 0 || c.MIDI.FuzzyThreshold > 1:
		return fmt.Errorf("fuzzy_threshold %v outside [0, 1]: %w", c.MIDI.FuzzyThreshold, ErrInvalid)
	case c.API.Port < 0 || c.API.Port > 65535:
		return fmt.Errorf("port %d: %w", c.API.Port, ErrInvalid)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// PollInterval parses midi.poll_interval. Empty means zero, which the
// device manager replaces with its default.
func (c *Config) PollInterval() (time.Duration, error) {
	if c.MIDI.PollInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MIDI.PollInterval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("poll_interval %q: %w", c.MIDI.PollInterval, ErrInvalid)
	}
	return d, nil
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (logrus.Level, error) {
	if c.Log.Level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return 0, fmt.Errorf("level %q: %w", c.Log.Level, ErrInvalid)
	}
	return lvl, nil
}
