package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/api/rest"
	"github.com/KevinKickass/OpenLoadbank/internal/api/websocket"
	"github.com/KevinKickass/OpenLoadbank/internal/config"
	"github.com/KevinKickass/OpenLoadbank/internal/control"
	"github.com/KevinKickass/OpenLoadbank/internal/loadbank"
	"github.com/KevinKickass/OpenLoadbank/internal/results"
	"github.com/KevinKickass/OpenLoadbank/internal/scheduler"
	"go.uber.org/zap"
)

// LifecycleManager wires the device, the profile scheduler, the results
// sink, the control loop and the API, and tears them down in order.
type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	device     *loadbank.Device
	scheduler  *scheduler.Scheduler
	sink       results.Sink
	controller *control.Controller
	wsHub      *websocket.Hub
	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastErr      error

	cancel   context.CancelFunc
	loopDone chan struct{}

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		currentState: StateInitializing,
		loopDone:     make(chan struct{}),
	}
}

// Start connects to the loadbank and starts the control loop and, when
// enabled, the REST API. On failure everything opened so far is closed.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenLoadbank")

	if err := lm.setState(StateConnecting); err != nil {
		return err
	}

	if err := lm.start(ctx); err != nil {
		lm.setError(err)
		lm.release(context.Background())
		return err
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.String("run_id", lm.controller.RunID().String()),
		zap.String("profile", lm.config.ProfilePath()),
		zap.String("results", lm.config.Results.Sink),
		zap.Bool("rest_enabled", lm.restServer != nil))
	return nil
}

func (lm *LifecycleManager) start(ctx context.Context) error {
	cfg := lm.config

	dialOpts := cfg.DialOptions()
	dialOpts.Logger = lm.logger
	dialOpts.Protocol.Logger = lm.logger

	device, err := loadbank.Dial(ctx, dialOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to loadbank: %w", err)
	}
	lm.device = device

	if cfg.Setup.Enabled {
		lm.logger.Info("Setting up loadbank")
		if err := device.Configure(ctx, cfg.DeviceSetup()); err != nil {
			return fmt.Errorf("failed to set up loadbank: %w", err)
		}
	}

	if path := cfg.ProfilePath(); path != "" {
		lm.scheduler = scheduler.New(scheduler.Options{
			Path:   path,
			Logger: lm.logger,
		})
	}

	sink, err := results.Open(ctx, cfg.ResultsOptions(), lm.logger)
	if err != nil {
		return fmt.Errorf("failed to open results sink: %w", err)
	}
	lm.sink = sink

	lm.controller = control.New(control.Options{
		Device:       device,
		Scheduler:    lm.scheduler,
		Sink:         sink,
		PollInterval: cfg.Control.PollInterval,
		AutoHold:     cfg.Control.AutoHold,
		Hold:         cfg.Hold(),
		Logger:       lm.logger,
	})

	lm.wsHub = websocket.NewHub(lm.logger)
	lm.controller.OnSnapshot(lm.wsHub.Publish)
	if cfg.Logging.Verbose {
		lm.controller.OnSnapshot(lm.logSample)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel
	go lm.wsHub.Run(loopCtx)
	go func() {
		defer close(lm.loopDone)
		if err := lm.controller.Run(loopCtx); err != nil {
			lm.logger.Error("Control loop failed", zap.Error(err))
		}
	}()

	if cfg.Server.Enabled {
		lm.restServer = rest.NewServer(cfg.Server.HTTPPort, lm.controller, lm.logger, lm.wsHub)
		if err := lm.restServer.Start(); err != nil {
			lm.restServer = nil
			return fmt.Errorf("failed to start REST API: %w", err)
		}
	}
	return nil
}

// Shutdown stops the API and the loop, turns the load off, zeroes it and
// closes the sink and the connection. Only the first call does anything.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		if err := lm.setState(StateStopping); err != nil {
			lm.logger.Warn("Unexpected state at shutdown", zap.Error(err))
		}

		shutdownErr = lm.release(ctx)

		if shutdownErr != nil {
			lm.setError(shutdownErr)
		}
		lm.forceState(StateStopped)
	})

	return shutdownErr
}

// release undoes whatever Start got through. Released parts are cleared so
// a second call is harmless.
func (lm *LifecycleManager) release(ctx context.Context) error {
	var errs []error

	if lm.restServer != nil {
		timeout := lm.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
		lm.restServer = nil
	}

	if lm.cancel != nil {
		lm.cancel()
		select {
		case <-lm.loopDone:
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, control loop still running")
			return errors.Join(append(errs, fmt.Errorf("shutdown timeout exceeded"))...)
		}
	}

	// The loop is gone, so the scheduler hooks have no one to race with.
	if lm.scheduler != nil {
		if err := lm.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop failed: %w", err))
		}
	}

	if lm.device != nil {
		if err := lm.device.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("loadbank shutdown failed: %w", err))
		} else {
			lm.logger.Info("Loadbank disconnected")
		}
		lm.device = nil
	}

	if lm.sink != nil {
		if err := lm.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("results sink close failed: %w", err))
		} else {
			lm.logger.Info("Datalogger closed")
		}
		lm.sink = nil
	}

	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) logSample(s control.Snapshot) {
	if s.Transition != nil {
		return
	}
	lm.logger.Info("Sample",
		zap.Duration("elapsed", s.Elapsed),
		zap.String("mode", s.Device.Mode.String()),
		zap.Float64("setpoint", s.Setpoint),
		zap.Float64("voltage", s.Device.Voltage),
		zap.Float64("current", s.Device.Current),
		zap.Float64("power", s.Device.Power))
}

// Done is closed once the control loop has exited.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.loopDone
}

func (lm *LifecycleManager) Controller() *control.Controller {
	return lm.controller
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns a summary for logs and the operator.
func (lm *LifecycleManager) GetCurrentStatus() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()

	status := SystemStatus{
		State:     lm.currentState,
		Device:    lm.deviceAddress(),
		Profile:   lm.config.ProfilePath(),
		Results:   lm.config.Results.Sink,
		Timestamp: time.Now().Unix(),
	}
	if lm.lastErr != nil {
		status.Error = lm.lastErr.Error()
	}
	return status
}

func (lm *LifecycleManager) deviceAddress() string {
	d := lm.config.Device
	if d.Transport == config.TransportSerial {
		return d.Serial.Port
	}
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		return err
	}
	lm.logger.Info("System state changed",
		zap.String("from", lm.currentState.String()),
		zap.String("to", state.String()))
	lm.currentState = state
	return nil
}

func (lm *LifecycleManager) forceState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = state
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.lastErr = err
	lm.currentState = StateError
}
