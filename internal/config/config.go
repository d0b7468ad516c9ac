package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source string       `yaml:"source"` // "serial" or "replay"
	Serial SerialConfig `yaml:"serial"`
	Decode DecodeConfig `yaml:"decode"`
	HTTP   HTTPConfig   `yaml:"http"`
	UDP    UDPConfig    `yaml:"udp"`
	Record RecordConfig `yaml:"record"`
	Replay ReplayConfig `yaml:"replay"`
}

type SerialConfig struct {
	// Device is the serial port the meter is wired to (e.g. /dev/ttyAMA0
	// or /dev/ttyUSB0).
	Device string `yaml:"device"`

	// Baud may be left 0 to use the dialect default: 1200 for historical
	// TIC, 9600 for standard. Both dialects are 7E1 on the wire.
	Baud int `yaml:"baud"`
}

type DecodeConfig struct {
	// Dialect is "historical" or "standard". It selects the default baud
	// rate and is logged at startup; the dataset decoder itself recognizes
	// the dialect per dataset.
	Dialect string `yaml:"dialect"`

	// Mode selects the unframer emission mode: "stream" (forward payload
	// bytes as they arrive, no frame buffer) or "cached" (buffer the
	// whole frame, emit once).
	Mode string `yaml:"mode"`

	// LFTerminated enables the alternate historical end-marker set in
	// which LF also closes an in-progress dataset.
	LFTerminated bool `yaml:"lf_terminated"`
}

type HTTPConfig struct {
	// Listen is the address for /metrics and /status. Empty disables the
	// HTTP server.
	Listen string `yaml:"listen"`
}

type UDPConfig struct {
	// Dest is host:port to publish meter snapshots to. Empty disables
	// UDP publishing.
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

// DefaultBaud returns the configured baud rate, falling back to the wire
// default for the dialect.
func (c Config) DefaultBaud() int {
	if c.Serial.Baud > 0 {
		return c.Serial.Baud
	}
	if c.Decode.Dialect == "standard" {
		return 9600
	}
	return 1200
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Source == "" {
		cfg.Source = "serial"
	}
	if cfg.Source != "serial" && cfg.Source != "replay" {
		return Config{}, fmt.Errorf("source must be \"serial\" or \"replay\", got %q", cfg.Source)
	}

	if cfg.Source == "serial" && cfg.Serial.Device == "" {
		return Config{}, fmt.Errorf("serial.device is required when source is serial")
	}
	if cfg.Serial.Baud < 0 {
		return Config{}, fmt.Errorf("serial.baud must be >= 0")
	}

	if cfg.Decode.Dialect == "" {
		cfg.Decode.Dialect = "historical"
	}
	if cfg.Decode.Dialect != "historical" && cfg.Decode.Dialect != "standard" {
		return Config{}, fmt.Errorf("decode.dialect must be \"historical\" or \"standard\", got %q", cfg.Decode.Dialect)
	}
	if cfg.Decode.Mode == "" {
		cfg.Decode.Mode = "stream"
	}
	if cfg.Decode.Mode != "stream" && cfg.Decode.Mode != "cached" {
		return Config{}, fmt.Errorf("decode.mode must be \"stream\" or \"cached\", got %q", cfg.Decode.Mode)
	}
	if cfg.Decode.LFTerminated && cfg.Decode.Dialect != "historical" {
		return Config{}, fmt.Errorf("decode.lf_terminated only applies to the historical dialect")
	}

	if cfg.UDP.Dest != "" && cfg.UDP.Interval <= 0 {
		cfg.UDP.Interval = 5 * time.Second
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return Config{}, fmt.Errorf("record.path is required when record.enable is true")
		}
		if cfg.Source == "replay" {
			return Config{}, fmt.Errorf("record cannot be used with source=replay")
		}
	}

	if cfg.Source == "replay" {
		if cfg.Replay.Path == "" {
			return Config{}, fmt.Errorf("replay.path is required when source is replay")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return Config{}, fmt.Errorf("replay.speed must be > 0")
		}
	}

	return cfg, nil
}
