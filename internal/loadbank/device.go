// Package loadbank is a typed view of the electronic load over the line
// protocol client.
package loadbank

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/protocol"
	"github.com/KevinKickass/OpenLoadbank/internal/transport"
	"go.uber.org/zap"
)

const (
	MinRange = 1
	MaxRange = 9
)

// DialOptions selects and configures the link to the device.
type DialOptions struct {
	TCP transport.Options
	// Serial, when set, is used instead of TCP.
	Serial   *transport.SerialOptions
	Protocol protocol.Options
	Logger   *zap.Logger
}

// Setup is the register sequence applied once after connecting.
type Setup struct {
	Mode           Mode
	Range          int
	CurrentLimit   float64
	VoltageLimit   float64
	VoltageMinimum float64
	// Settle is waited between consecutive writes.
	Settle time.Duration
}

// Device is owned by a single control goroutine. State may be read from
// anywhere.
type Device struct {
	client *protocol.Client
	logger *zap.Logger

	mu    sync.RWMutex
	state DeviceState

	closeOnce sync.Once
	closeErr  error
}

func New(t protocol.Transport, opts protocol.Options, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Device{
		client: protocol.NewClient(t, opts),
		logger: logger,
	}
}

// Dial connects the transport and primes the setpoint cache.
func Dial(ctx context.Context, opts DialOptions) (*Device, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var (
		conn *transport.Conn
		err  error
	)
	if opts.Serial != nil {
		serialOpts := *opts.Serial
		if serialOpts.Logger == nil {
			serialOpts.Logger = opts.Logger
		}
		conn, err = transport.OpenSerial(serialOpts)
	} else {
		tcpOpts := opts.TCP
		if tcpOpts.Logger == nil {
			tcpOpts.Logger = opts.Logger
		}
		conn, err = transport.Dial(ctx, tcpOpts)
	}
	if err != nil {
		return nil, err
	}

	d := New(conn, opts.Protocol, opts.Logger)
	if err := d.Prime(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to prime device cache: %w", err)
	}
	return d, nil
}

// Prime reads back the registers the device keeps across client restarts.
func (d *Device) Prime(ctx context.Context) error {
	for _, m := range []Mode{ModeVoltage, ModeCurrent, ModePower} {
		if _, err := d.constant(ctx, m); err != nil {
			return err
		}
	}
	if _, err := d.Mode(ctx); err != nil {
		return err
	}
	if _, err := d.Load(ctx); err != nil {
		return err
	}
	if _, err := d.Range(ctx); err != nil {
		return err
	}

	s := d.State()
	d.logger.Info("Device cache primed",
		zap.String("mode", s.Mode.String()),
		zap.Float64("cv", s.ConstantVoltage),
		zap.Float64("ci", s.ConstantCurrent),
		zap.Float64("cp", s.ConstantPower),
		zap.Bool("load", s.LoadOn),
		zap.Int("range", s.Range))
	return nil
}

// Configure applies the startup register sequence.
func (d *Device) Configure(ctx context.Context, setup Setup) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"zero", func() error { return d.Zero(ctx) }},
		{"mode", func() error { return d.SetMode(ctx, setup.Mode) }},
		{"range", func() error { return d.SetRange(ctx, setup.Range) }},
		{"current limit", func() error { return d.SetCurrentLimit(ctx, setup.CurrentLimit) }},
		{"voltage limit", func() error { return d.SetVoltageLimit(ctx, setup.VoltageLimit) }},
		{"voltage minimum", func() error { return d.SetVoltageMinimum(ctx, setup.VoltageMinimum) }},
	}

	for i, step := range steps {
		if i > 0 && setup.Settle > 0 {
			if err := sleep(ctx, setup.Settle); err != nil {
				return err
			}
		}
		if err := step.fn(); err != nil {
			return fmt.Errorf("setup %s: %w", step.name, err)
		}
	}

	d.logger.Info("Device configured",
		zap.String("mode", setup.Mode.String()),
		zap.Int("range", setup.Range),
		zap.Float64("current_limit", setup.CurrentLimit),
		zap.Float64("voltage_limit", setup.VoltageLimit),
		zap.Float64("voltage_minimum", setup.VoltageMinimum))
	return nil
}

// Shutdown turns the load off, zeroes the active setpoint and closes the
// connection. Every step is attempted.
func (d *Device) Shutdown(ctx context.Context) error {
	var errs []error
	if err := d.SetLoad(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("load off: %w", err))
	}
	if err := d.Zero(ctx); err != nil {
		errs = append(errs, fmt.Errorf("zero: %w", err))
	}
	if err := d.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes the connection. Safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.client.Close()
	})
	return d.closeErr
}

// State returns a copy of the cache.
func (d *Device) State() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Raw runs an arbitrary exchange and returns the reply line.
func (d *Device) Raw(ctx context.Context, command, value string) (string, error) {
	return d.client.Execute(ctx, command, value)
}

// Load

func (d *Device) Load(ctx context.Context) (bool, error) {
	return d.exchangeLoad(ctx, "")
}

func (d *Device) SetLoad(ctx context.Context, on bool) error {
	value := "off"
	if on {
		value = "on"
	}
	got, err := d.exchangeLoad(ctx, value)
	if err != nil {
		return err
	}
	if got != on {
		d.logger.Warn("Load state did not follow command",
			zap.Bool("requested", on),
			zap.Bool("reported", got))
	}
	return nil
}

func (d *Device) exchangeLoad(ctx context.Context, value string) (bool, error) {
	var on bool
	_, err := d.client.ExecuteWith(ctx, "load", value, func(reply string) error {
		v, err := parseOnOff(reply)
		if err != nil {
			return err
		}
		on = v
		return nil
	})
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	d.state.LoadOn = on
	d.mu.Unlock()
	return on, nil
}

// Mode

func (d *Device) Mode(ctx context.Context) (Mode, error) {
	return d.exchangeMode(ctx, ModeUnknown)
}

func (d *Device) SetMode(ctx context.Context, m Mode) error {
	if m == ModeUnknown {
		return fmt.Errorf("%w: cannot select mode %s", ErrInvalidArgument, m)
	}
	_, err := d.exchangeMode(ctx, m)
	return err
}

// SetModeString parses operator input such as "cv" or "Current" and selects
// that mode.
func (d *Device) SetModeString(ctx context.Context, s string) error {
	m, err := ParseMode(s)
	if err != nil {
		return err
	}
	return d.SetMode(ctx, m)
}

func (d *Device) exchangeMode(ctx context.Context, want Mode) (Mode, error) {
	value := ""
	if want != ModeUnknown {
		value = want.Register()
	}

	var got Mode
	_, err := d.client.ExecuteWith(ctx, "mode", value, func(reply string) error {
		m, err := ParseMode(reply)
		if err != nil {
			return fmt.Errorf("%w: %q", protocol.ErrMalformedReply, reply)
		}
		if want != ModeUnknown && m != want {
			return fmt.Errorf("%w: mode is %s, want %s", protocol.ErrMalformedReply, m, want)
		}
		got = m
		return nil
	})
	if err != nil {
		return ModeUnknown, err
	}

	d.mu.Lock()
	d.state.Mode = got
	d.mu.Unlock()
	return got, nil
}

// ModeSetpoint returns the cached mode with its cached setpoint.
func (d *Device) ModeSetpoint() (Mode, float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.state.Setpoint(d.state.Mode)
	if !ok {
		return ModeUnknown, 0, ErrModeUnknown
	}
	return d.state.Mode, v, nil
}

// ModeString renders ModeSetpoint, e.g. "CURRENT 2.0".
func (d *Device) ModeString() (string, error) {
	m, v, err := d.ModeSetpoint()
	if err != nil {
		return "", err
	}
	return m.String() + " " + protocol.FormatValue(v), nil
}

// Range

func (d *Device) Range(ctx context.Context) (int, error) {
	return d.exchangeRange(ctx, "")
}

func (d *Device) SetRange(ctx context.Context, n int) error {
	if n < MinRange || n > MaxRange {
		return fmt.Errorf("%w: range %d outside %d-%d", ErrInvalidArgument, n, MinRange, MaxRange)
	}
	_, err := d.exchangeRange(ctx, strconv.Itoa(n))
	return err
}

func (d *Device) exchangeRange(ctx context.Context, value string) (int, error) {
	var n int
	_, err := d.client.ExecuteWith(ctx, "rng", value, func(reply string) error {
		v, err := strconv.Atoi(protocol.Field(reply, 0))
		if err != nil {
			return fmt.Errorf("%w: range %q", protocol.ErrMalformedReply, reply)
		}
		n = v
		return nil
	})
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.state.Range = n
	d.mu.Unlock()
	return n, nil
}

// Measured readings. Cached values only change through Update or these
// calls.

func (d *Device) Voltage(ctx context.Context) (float64, error) {
	return d.measure(ctx, "v", &d.state.Voltage)
}

func (d *Device) Current(ctx context.Context) (float64, error) {
	return d.measure(ctx, "i", &d.state.Current)
}

func (d *Device) Power(ctx context.Context) (float64, error) {
	return d.measure(ctx, "p", &d.state.Power)
}

// Update refreshes the cached voltage, current and power.
func (d *Device) Update(ctx context.Context) error {
	if _, err := d.Voltage(ctx); err != nil {
		return fmt.Errorf("update voltage: %w", err)
	}
	if _, err := d.Current(ctx); err != nil {
		return fmt.Errorf("update current: %w", err)
	}
	if _, err := d.Power(ctx); err != nil {
		return fmt.Errorf("update power: %w", err)
	}
	return nil
}

func (d *Device) measure(ctx context.Context, command string, field *float64) (float64, error) {
	v, err := d.client.ExecuteFloat(ctx, command, "")
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	*field = v
	d.mu.Unlock()
	return v, nil
}

// SetVoltageDirect and SetCurrentDirect write the raw "v" and "i"
// commands. The device treats them like cv and ci on some firmware; the
// scheduler and control loop use the constant-setpoint registers instead.
func (d *Device) SetVoltageDirect(ctx context.Context, x float64) (float64, error) {
	return d.client.ExecuteFloat(ctx, "v", protocol.FormatValue(x))
}

func (d *Device) SetCurrentDirect(ctx context.Context, x float64) (float64, error) {
	return d.client.ExecuteFloat(ctx, "i", protocol.FormatValue(x))
}

// Constant setpoints

func (d *Device) ConstantVoltage(ctx context.Context) (float64, error) {
	return d.constant(ctx, ModeVoltage)
}

func (d *Device) SetConstantVoltage(ctx context.Context, x float64) error {
	return d.setConstant(ctx, ModeVoltage, x)
}

func (d *Device) ConstantCurrent(ctx context.Context) (float64, error) {
	return d.constant(ctx, ModeCurrent)
}

func (d *Device) SetConstantCurrent(ctx context.Context, x float64) error {
	return d.setConstant(ctx, ModeCurrent, x)
}

func (d *Device) ConstantPower(ctx context.Context) (float64, error) {
	return d.constant(ctx, ModePower)
}

func (d *Device) SetConstantPower(ctx context.Context, x float64) error {
	return d.setConstant(ctx, ModePower, x)
}

func (d *Device) constant(ctx context.Context, m Mode) (float64, error) {
	v, err := d.client.ExecuteFloat(ctx, m.Register(), "")
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.state.setSetpoint(m, v)
	d.mu.Unlock()
	return v, nil
}

func (d *Device) setConstant(ctx context.Context, m Mode, x float64) error {
	if x < 0 {
		return fmt.Errorf("%w: negative %s setpoint %v", ErrInvalidArgument, strings.ToLower(m.String()), x)
	}
	if _, err := d.client.ExecuteFloat(ctx, m.Register(), protocol.FormatValue(x)); err != nil {
		return err
	}
	d.mu.Lock()
	d.state.setSetpoint(m, x)
	d.mu.Unlock()
	return nil
}

// ApplySetpoint writes x to the constant register of the cached mode.
func (d *Device) ApplySetpoint(ctx context.Context, x float64) error {
	m := d.State().Mode
	if m == ModeUnknown {
		return ErrModeUnknown
	}
	return d.setConstant(ctx, m, x)
}

// Zero sets the active mode's setpoint to 0. It does nothing while the mode
// is unknown; the load state is left alone.
func (d *Device) Zero(ctx context.Context) error {
	m := d.State().Mode
	if m == ModeUnknown {
		return nil
	}
	return d.setConstant(ctx, m, 0)
}

// Limits

func (d *Device) VoltageLimit(ctx context.Context) (float64, error) {
	return d.register(ctx, "vl", "", &d.state.VoltageLimit)
}

func (d *Device) SetVoltageLimit(ctx context.Context, x float64) error {
	return d.setRegister(ctx, "vl", x, &d.state.VoltageLimit)
}

func (d *Device) CurrentLimit(ctx context.Context) (float64, error) {
	return d.register(ctx, "il", "", &d.state.CurrentLimit)
}

func (d *Device) SetCurrentLimit(ctx context.Context, x float64) error {
	return d.setRegister(ctx, "il", x, &d.state.CurrentLimit)
}

func (d *Device) PowerLimit(ctx context.Context) (float64, error) {
	return d.register(ctx, "pl", "", &d.state.PowerLimit)
}

func (d *Device) SetPowerLimit(ctx context.Context, x float64) error {
	return d.setRegister(ctx, "pl", x, &d.state.PowerLimit)
}

func (d *Device) VoltageMinimum(ctx context.Context) (float64, error) {
	return d.register(ctx, "uv", "", &d.state.VoltageMinimum)
}

func (d *Device) SetVoltageMinimum(ctx context.Context, x float64) error {
	return d.setRegister(ctx, "uv", x, &d.state.VoltageMinimum)
}

func (d *Device) register(ctx context.Context, command, value string, field *float64) (float64, error) {
	v, err := d.client.ExecuteFloat(ctx, command, value)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	*field = v
	d.mu.Unlock()
	return v, nil
}

func (d *Device) setRegister(ctx context.Context, command string, x float64, field *float64) error {
	if x < 0 {
		return fmt.Errorf("%w: negative %s %v", ErrInvalidArgument, command, x)
	}
	_, err := d.register(ctx, command, protocol.FormatValue(x), field)
	return err
}

// parseOnOff reads "load on" style replies.
func parseOnOff(reply string) (bool, error) {
	word := protocol.Field(reply, 1)
	if word == "" {
		word = protocol.Field(reply, 0)
	}
	switch strings.ToLower(word) {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: load %q", protocol.ErrMalformedReply, reply)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
