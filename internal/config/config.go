package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/control"
	"github.com/KevinKickass/OpenLoadbank/internal/loadbank"
	"github.com/KevinKickass/OpenLoadbank/internal/protocol"
	"github.com/KevinKickass/OpenLoadbank/internal/results"
	"github.com/KevinKickass/OpenLoadbank/internal/transport"
	"github.com/spf13/viper"
)

const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Setup    SetupConfig    `mapstructure:"setup"`
	Control  ControlConfig  `mapstructure:"control"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Results  ResultsConfig  `mapstructure:"results"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type DeviceConfig struct {
	Transport       string        `mapstructure:"transport"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	PasswordTimeout time.Duration `mapstructure:"password_timeout"`
	Serial          SerialConfig  `mapstructure:"serial"`
}

type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

type ProtocolConfig struct {
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// SetupConfig is the register sequence written once after connecting.
type SetupConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Mode           string        `mapstructure:"mode"`
	Range          int           `mapstructure:"range"`
	CurrentLimit   float64       `mapstructure:"current_limit"`
	VoltageLimit   float64       `mapstructure:"voltage_limit"`
	VoltageMinimum float64       `mapstructure:"voltage_minimum"`
	Settle         time.Duration `mapstructure:"settle"`
}

type ControlConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	AutoHold     bool          `mapstructure:"auto_hold"`
	HoldBand     float64       `mapstructure:"hold_band"`
	HoldStep     float64       `mapstructure:"hold_step"`
}

type ProfileConfig struct {
	Path string `mapstructure:"path"`
	// BaseDir resolves a relative Path.
	BaseDir string `mapstructure:"base_dir"`
}

type ResultsConfig struct {
	Sink string `mapstructure:"sink"`
	Dir  string `mapstructure:"dir"`
	Tag  string `mapstructure:"tag"`
	DSN  string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	// Verbose logs every sample as it is recorded.
	Verbose bool `mapstructure:"verbose"`
}

// Load reads the YAML file at path on top of the defaults. An empty path
// yields the defaults plus LOADBANK_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// LOADBANK_DEVICE_HOST overrides device.host, and so on.
	v.SetEnvPrefix("LOADBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.transport", TransportTCP)
	v.SetDefault("device.host", "127.0.0.1")
	v.SetDefault("device.port", 10001)
	v.SetDefault("device.password", "")
	v.SetDefault("device.dial_timeout", "3s")
	v.SetDefault("device.password_timeout", "1s")
	v.SetDefault("device.serial.port", "/dev/ttyUSB0")
	v.SetDefault("device.serial.baud_rate", 9600)

	v.SetDefault("protocol.read_timeout", "100ms")
	v.SetDefault("protocol.max_attempts", protocol.DefaultMaxAttempts)

	v.SetDefault("setup.enabled", true)
	v.SetDefault("setup.mode", "CURRENT")
	v.SetDefault("setup.range", loadbank.MaxRange)
	v.SetDefault("setup.current_limit", 30.0)
	v.SetDefault("setup.voltage_limit", 35.0)
	v.SetDefault("setup.voltage_minimum", 0.01)
	v.SetDefault("setup.settle", "400ms")

	v.SetDefault("control.poll_interval", "200ms")
	v.SetDefault("control.auto_hold", false)
	v.SetDefault("control.hold_band", control.DefaultHoldBand)
	v.SetDefault("control.hold_step", control.DefaultHoldStep)

	v.SetDefault("profile.path", "")
	v.SetDefault("profile.base_dir", "")

	v.SetDefault("results.sink", results.KindTSV)
	v.SetDefault("results.dir", ".")
	v.SetDefault("results.tag", "run")
	v.SetDefault("results.dsn", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.verbose", false)
}

// Validate rejects values the device layer would only fail on later.
func (c *Config) Validate() error {
	switch c.Device.Transport {
	case TransportTCP, TransportSerial:
	default:
		return fmt.Errorf("invalid device.transport %q", c.Device.Transport)
	}
	if _, err := loadbank.ParseMode(c.Setup.Mode); err != nil {
		return fmt.Errorf("invalid setup.mode %q: %w", c.Setup.Mode, err)
	}
	if c.Setup.Range < loadbank.MinRange || c.Setup.Range > loadbank.MaxRange {
		return fmt.Errorf("invalid setup.range %d", c.Setup.Range)
	}
	switch c.Results.Sink {
	case results.KindNone, results.KindTSV, results.KindSQLite, results.KindPostgres:
	default:
		return fmt.Errorf("invalid results.sink %q", c.Results.Sink)
	}
	return nil
}

func (c *Config) DialOptions() loadbank.DialOptions {
	opts := loadbank.DialOptions{
		TCP: transport.Options{
			Host:            c.Device.Host,
			Port:            c.Device.Port,
			Password:        c.Device.Password,
			DialTimeout:     c.Device.DialTimeout,
			PasswordTimeout: c.Device.PasswordTimeout,
		},
		Protocol: protocol.Options{
			ReadTimeout: c.Protocol.ReadTimeout,
			MaxAttempts: c.Protocol.MaxAttempts,
		},
	}
	if c.Device.Transport == TransportSerial {
		opts.Serial = &transport.SerialOptions{
			Port:            c.Device.Serial.Port,
			BaudRate:        c.Device.Serial.BaudRate,
			Password:        c.Device.Password,
			PasswordTimeout: c.Device.PasswordTimeout,
		}
	}
	return opts
}

// DeviceSetup converts the setup section. Load has already validated the
// mode.
func (c *Config) DeviceSetup() loadbank.Setup {
	mode, _ := loadbank.ParseMode(c.Setup.Mode)
	return loadbank.Setup{
		Mode:           mode,
		Range:          c.Setup.Range,
		CurrentLimit:   c.Setup.CurrentLimit,
		VoltageLimit:   c.Setup.VoltageLimit,
		VoltageMinimum: c.Setup.VoltageMinimum,
		Settle:         c.Setup.Settle,
	}
}

func (c *Config) Hold() control.HoldConfig {
	return control.HoldConfig{Band: c.Control.HoldBand, Step: c.Control.HoldStep}
}

func (c *Config) ResultsOptions() results.Options {
	return results.Options{
		Kind: c.Results.Sink,
		Dir:  c.Results.Dir,
		Tag:  c.Results.Tag,
		DSN:  c.Results.DSN,
	}
}

// ProfilePath resolves profile.path against profile.base_dir.
func (c *Config) ProfilePath() string {
	p := c.Profile.Path
	if p == "" || c.Profile.BaseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Profile.BaseDir, p)
}
