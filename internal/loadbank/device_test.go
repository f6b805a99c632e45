package loadbank

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/protocol"
	"github.com/KevinKickass/OpenLoadbank/internal/simulator"
	"github.com/KevinKickass/OpenLoadbank/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSimDevice(t *testing.T, cfg simulator.Config, popts protocol.Options) (*Device, *simulator.Loadbank) {
	t.Helper()

	sim := simulator.New(cfg, zap.NewNop())
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { sim.Close() })

	d, err := Dial(context.Background(), DialOptions{
		TCP: transport.Options{
			Host:     sim.Host(),
			Port:     sim.Port(),
			Password: cfg.Password,
		},
		Protocol: popts,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, sim
}

func TestDialPrimesCache(t *testing.T) {
	d, _ := newSimDevice(t, simulator.Config{
		Password: "secret",
		Initial: simulator.Registers{
			Mode:         simulator.ModeVoltage,
			Load:         true,
			Range:        5,
			ConstVoltage: 12.5,
			ConstCurrent: 3,
			ConstPower:   40,
		},
	}, protocol.Options{})

	s := d.State()
	assert.Equal(t, ModeVoltage, s.Mode)
	assert.Equal(t, 12.5, s.ConstantVoltage)
	assert.Equal(t, 3.0, s.ConstantCurrent)
	assert.Equal(t, 40.0, s.ConstantPower)
	assert.True(t, s.LoadOn)
	assert.Equal(t, 5, s.Range)

	str, err := d.ModeString()
	require.NoError(t, err)
	assert.Equal(t, "VOLTAGE 12.5", str)
}

func TestRoundTrip(t *testing.T) {
	d, _ := newSimDevice(t, simulator.Config{}, protocol.Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		set  func(float64) error
		get  func() (float64, error)
		x    float64
	}{
		{"cv", func(x float64) error { return d.SetConstantVoltage(ctx, x) }, func() (float64, error) { return d.ConstantVoltage(ctx) }, 11.75},
		{"ci", func(x float64) error { return d.SetConstantCurrent(ctx, x) }, func() (float64, error) { return d.ConstantCurrent(ctx) }, 2.5},
		{"cp", func(x float64) error { return d.SetConstantPower(ctx, x) }, func() (float64, error) { return d.ConstantPower(ctx) }, 120},
		{"vl", func(x float64) error { return d.SetVoltageLimit(ctx, x) }, func() (float64, error) { return d.VoltageLimit(ctx) }, 35},
		{"il", func(x float64) error { return d.SetCurrentLimit(ctx, x) }, func() (float64, error) { return d.CurrentLimit(ctx) }, 30},
		{"pl", func(x float64) error { return d.SetPowerLimit(ctx, x) }, func() (float64, error) { return d.PowerLimit(ctx) }, 500},
		{"uv", func(x float64) error { return d.SetVoltageMinimum(ctx, x) }, func() (float64, error) { return d.VoltageMinimum(ctx) }, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.set(tt.x))
			got, err := tt.get()
			require.NoError(t, err)
			assert.InDelta(t, tt.x, got, 1e-9)
		})
	}

	s := d.State()
	assert.Equal(t, 11.75, s.ConstantVoltage)
	assert.Equal(t, 2.5, s.ConstantCurrent)
	assert.Equal(t, 35.0, s.VoltageLimit)
	assert.Equal(t, 0.01, s.VoltageMinimum)
}

func TestSetRange(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{}, protocol.Options{})
	ctx := context.Background()

	for _, n := range []int{0, 10, -1} {
		assert.ErrorIs(t, d.SetRange(ctx, n), ErrInvalidArgument)
	}
	assert.Empty(t, sim.Sets())

	require.NoError(t, d.SetRange(ctx, 4))
	n, err := d.Range(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"rng 4"}, sim.Sets())
}

func TestSetMode(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{}, protocol.Options{})
	ctx := context.Background()

	require.NoError(t, d.SetModeString(ctx, "cv"))
	assert.Equal(t, ModeVoltage, d.State().Mode)
	assert.Equal(t, simulator.ModeVoltage, sim.Registers().Mode)

	require.NoError(t, d.SetMode(ctx, ModePower))
	m, err := d.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModePower, m)

	sets := len(sim.Sets())
	assert.ErrorIs(t, d.SetModeString(ctx, "bogus"), ErrInvalidArgument)
	assert.ErrorIs(t, d.SetMode(ctx, ModeUnknown), ErrInvalidArgument)
	assert.Len(t, sim.Sets(), sets)
	assert.Equal(t, ModePower, d.State().Mode)
}

func TestLoadOnOff(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{}, protocol.Options{})
	ctx := context.Background()

	require.NoError(t, d.SetLoad(ctx, true))
	assert.True(t, d.State().LoadOn)
	assert.True(t, sim.Registers().Load)

	require.NoError(t, d.SetLoad(ctx, false))
	on, err := d.Load(ctx)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestUpdate(t *testing.T) {
	d, _ := newSimDevice(t, simulator.Config{SourceVoltage: 24, SourceResistance: 0.1}, protocol.Options{})
	ctx := context.Background()

	require.NoError(t, d.SetMode(ctx, ModeCurrent))
	require.NoError(t, d.SetConstantCurrent(ctx, 10))
	require.NoError(t, d.SetLoad(ctx, true))
	require.NoError(t, d.Update(ctx))

	s := d.State()
	assert.InDelta(t, 23.0, s.Voltage, 1e-9)
	assert.InDelta(t, 10.0, s.Current, 1e-9)
	assert.InDelta(t, 230.0, s.Power, 1e-9)
}

func TestZeroAndApplySetpoint(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{}, protocol.Options{})
	ctx := context.Background()

	require.NoError(t, d.SetMode(ctx, ModeCurrent))
	require.NoError(t, d.ApplySetpoint(ctx, 2))
	assert.Equal(t, 2.0, sim.Registers().ConstCurrent)

	str, err := d.ModeString()
	require.NoError(t, err)
	assert.Equal(t, "CURRENT 2.0", str)

	require.NoError(t, d.Zero(ctx))
	assert.Equal(t, 0.0, sim.Registers().ConstCurrent)
	assert.Equal(t, 0.0, d.State().ConstantCurrent)

	assert.ErrorIs(t, d.ApplySetpoint(ctx, -1), ErrInvalidArgument)
}

func TestUnknownModeWithoutDevice(t *testing.T) {
	d := New(nil, protocol.Options{}, nil)
	ctx := context.Background()

	assert.NoError(t, d.Zero(ctx))
	assert.ErrorIs(t, d.ApplySetpoint(ctx, 1), ErrModeUnknown)

	_, err := d.ModeString()
	assert.ErrorIs(t, err, ErrModeUnknown)
}

func TestRetriesAgainstSimulator(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{}, protocol.Options{
		ReadTimeout: 30 * time.Millisecond,
		MaxAttempts: 4,
	})
	ctx := context.Background()

	sim.DropNext(3)
	v, err := d.Voltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 24.0, v)

	sim.GarbleNext(2)
	_, err = d.Current(ctx)
	require.NoError(t, err)

	sim.DropNext(4)
	_, err = d.Power(ctx)
	assert.ErrorIs(t, err, protocol.ErrUnresponsive)

	// The loop keeps working after an unresponsive exchange.
	_, err = d.Power(ctx)
	assert.NoError(t, err)
}

func TestConfigure(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{
		Initial: simulator.Registers{Mode: simulator.ModeCurrent, ConstCurrent: 7},
	}, protocol.Options{})

	err := d.Configure(context.Background(), Setup{
		Mode:           ModeCurrent,
		Range:          9,
		CurrentLimit:   30,
		VoltageLimit:   35,
		VoltageMinimum: 0.01,
		Settle:         time.Millisecond,
	})
	require.NoError(t, err)

	r := sim.Registers()
	assert.Equal(t, 0.0, r.ConstCurrent)
	assert.Equal(t, simulator.ModeCurrent, r.Mode)
	assert.Equal(t, 9, r.Range)
	assert.Equal(t, 30.0, r.CurrentLimit)
	assert.Equal(t, 35.0, r.VoltageLimit)
	assert.Equal(t, 0.01, r.VoltageMinimum)
	assert.Equal(t, []string{"ci 0.0", "mode ci", "rng 9", "il 30.0", "vl 35.0", "uv 0.01"}, sim.Sets())
}

func TestConfigureCancelled(t *testing.T) {
	d, _ := newSimDevice(t, simulator.Config{}, protocol.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Configure(ctx, Setup{Mode: ModeCurrent, Range: 9, Settle: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShutdown(t *testing.T) {
	d, sim := newSimDevice(t, simulator.Config{
		Initial: simulator.Registers{Mode: simulator.ModeCurrent, Load: true, ConstCurrent: 5},
	}, protocol.Options{})

	require.NoError(t, d.Shutdown(context.Background()))
	r := sim.Registers()
	assert.False(t, r.Load)
	assert.Equal(t, 0.0, r.ConstCurrent)

	assert.NoError(t, d.Close())
}
