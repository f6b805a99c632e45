package simulator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes a simulated loadbank. It mirrors configs/simulator.yaml.
type Config struct {
	ListenAddress string `yaml:"listen_address"`
	Password      string `yaml:"password"`

	// Electrical model: an ideal source with a series resistance.
	SourceVoltage    float64 `yaml:"source_voltage"`
	SourceResistance float64 `yaml:"source_resistance"`

	Initial Registers `yaml:"initial"`

	ReplyDelay   time.Duration `yaml:"reply_delay"`
	EchoCommands bool          `yaml:"echo_commands"`
	DropReplies  int           `yaml:"drop_replies"`
}

// Registers is the device memory that survives client restarts.
type Registers struct {
	Mode           string  `yaml:"mode"`
	Load           bool    `yaml:"load"`
	Range          int     `yaml:"range"`
	ConstVoltage   float64 `yaml:"cv"`
	ConstCurrent   float64 `yaml:"ci"`
	ConstPower     float64 `yaml:"cp"`
	VoltageLimit   float64 `yaml:"vl"`
	CurrentLimit   float64 `yaml:"il"`
	PowerLimit     float64 `yaml:"pl"`
	VoltageMinimum float64 `yaml:"uv"`
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1:10001"
	}
	if c.SourceVoltage <= 0 {
		c.SourceVoltage = 24
	}
	if c.SourceResistance <= 0 {
		c.SourceResistance = 0.1
	}
	if c.Initial.Mode == "" {
		c.Initial.Mode = ModeCurrent
	}
	if c.Initial.Range == 0 {
		c.Initial.Range = 9
	}
}

// LoadConfig reads a YAML scenario file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}
