// Package config holds the host tools' settings, kept as YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the host tool configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Scale       ScaleConfig       `yaml:"scale"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// SerialConfig selects the device's console port.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ScaleConfig is the scale the tools address and its last calibration.
type ScaleConfig struct {
	ID      string `yaml:"id"`
	Unit    string `yaml:"unit"`
	RefUnit int32  `yaml:"ref_unit"`
	Offset  int32  `yaml:"offset"`
}

// MonitorConfig contains scalemon settings.
type MonitorConfig struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // Silence before the link is reported stale
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// CalibrationConfig contains the defaults offered by scalecal.
type CalibrationConfig struct {
	Samples int     `yaml:"samples"` // Readings per zero and calibration, 1..80
	Known   float64 `yaml:"known"`   // Known mass, in Unit
	Unit    string  `yaml:"unit"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyACM0",
			Baud: 115200,
		},
		Scale: ScaleConfig{
			ID:      "s0",
			Unit:    "g",
			RefUnit: 1,
		},
		Monitor: MonitorConfig{
			HeartbeatTimeout: 5 * time.Second,
			CommandTimeout:   10 * time.Second,
			BufferSize:       100,
		},
		Calibration: CalibrationConfig{
			Samples: 10,
			Known:   100,
			Unit:    "g",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults, and missing fields are filled from them.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Scale.ID == "" {
		c.Scale.ID = def.Scale.ID
	}
	if c.Scale.Unit == "" {
		c.Scale.Unit = def.Scale.Unit
	}
	if c.Scale.RefUnit == 0 {
		c.Scale.RefUnit = def.Scale.RefUnit
	}

	if c.Monitor.HeartbeatTimeout == 0 {
		c.Monitor.HeartbeatTimeout = def.Monitor.HeartbeatTimeout
	}
	if c.Monitor.CommandTimeout == 0 {
		c.Monitor.CommandTimeout = def.Monitor.CommandTimeout
	}
	if c.Monitor.BufferSize == 0 {
		c.Monitor.BufferSize = def.Monitor.BufferSize
	}

	if c.Calibration.Samples <= 0 {
		c.Calibration.Samples = def.Calibration.Samples
	}
	if c.Calibration.Samples > 80 {
		c.Calibration.Samples = 80
	}
	if c.Calibration.Known <= 0 {
		c.Calibration.Known = def.Calibration.Known
	}
	if c.Calibration.Unit == "" {
		c.Calibration.Unit = def.Calibration.Unit
	}
}
