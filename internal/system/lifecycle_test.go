package system

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/config"
	"github.com/KevinKickass/OpenLoadbank/internal/control"
	"github.com/KevinKickass/OpenLoadbank/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T, host string, port int) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Device.Host = host
	cfg.Device.Port = port
	cfg.Setup.Settle = time.Millisecond
	cfg.Control.PollInterval = 10 * time.Millisecond
	cfg.Results.Dir = t.TempDir()
	cfg.Results.Tag = "lifecycle"
	cfg.Server.HTTPPort = 0
	cfg.Logging.Verbose = true
	return cfg
}

func TestLifecycleStartShutdown(t *testing.T) {
	sim := simulator.New(simulator.Config{}, zap.NewNop())
	require.NoError(t, sim.Start("127.0.0.1:0"))
	t.Cleanup(func() { sim.Close() })

	cfg := testConfig(t, sim.Host(), sim.Port())
	lm := NewLifecycleManager(cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	assert.Equal(t, StateRunning, lm.State())

	// Setup ran before the loop.
	assert.Equal(t, []string{"ci 0.0", "mode ci", "rng 9", "il 30.0", "vl 35.0", "uv 0.01"},
		sim.Sets()[:6])

	ctrl := lm.Controller()
	require.Eventually(t, func() bool { return ctrl.Snapshot().Ticks > 2 },
		2*time.Second, 10*time.Millisecond)

	_, err := ctrl.Submit(ctx, control.LoadCommand(true))
	require.NoError(t, err)
	_, err = ctrl.Submit(ctx, control.CurrentCommand(5))
	require.NoError(t, err)
	assert.True(t, sim.Registers().Load)
	assert.Equal(t, 5.0, sim.Registers().ConstCurrent)

	require.NoError(t, lm.Shutdown(ctx))
	assert.Equal(t, StateStopped, lm.State())
	assert.NoError(t, lm.Shutdown(ctx))

	regs := sim.Registers()
	assert.False(t, regs.Load)
	assert.Equal(t, 0.0, regs.ConstCurrent)

	select {
	case <-lm.Done():
	default:
		t.Fatal("control loop still running after shutdown")
	}

	_, err = ctrl.Submit(ctx, control.LoadCommand(true))
	assert.ErrorIs(t, err, control.ErrStopped)

	matches, err := filepath.Glob(filepath.Join(cfg.Results.Dir, "*-controller-lifecycle.tsv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestLifecycleStartFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig(t, "127.0.0.1", port)
	cfg.Device.DialTimeout = 200 * time.Millisecond
	lm := NewLifecycleManager(cfg, zap.NewNop())

	err = lm.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, lm.State())

	status := lm.GetCurrentStatus()
	assert.Equal(t, StateError, status.State)
	assert.NotEmpty(t, status.Error)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), status.Device)

	assert.NoError(t, lm.Shutdown(context.Background()))
	assert.Equal(t, StateStopped, lm.State())
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateInitializing, StateConnecting))
	assert.NoError(t, ValidateTransition(StateConnecting, StateRunning))
	assert.NoError(t, ValidateTransition(StateRunning, StateStopping))
	assert.NoError(t, ValidateTransition(StateStopping, StateStopped))
	assert.NoError(t, ValidateTransition(StateError, StateStopping))

	assert.Error(t, ValidateTransition(StateInitializing, StateRunning))
	assert.Error(t, ValidateTransition(StateStopped, StateRunning))
	assert.Error(t, ValidateTransition(SystemState(42), StateRunning))
}

func TestSystemStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", SystemState(42).String())
}
