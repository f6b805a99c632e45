// Package control runs the single control loop that owns the device: it
// polls readings, plays the profile, holds voltage, logs samples and
// executes operator commands submitted from other goroutines.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/loadbank"
	"github.com/KevinKickass/OpenLoadbank/internal/results"
	"github.com/KevinKickass/OpenLoadbank/internal/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultPollInterval = 200 * time.Millisecond

var (
	ErrNoProfile = errors.New("no profile loaded")
	ErrStopped   = errors.New("controller stopped")
)

// Device is the part of *loadbank.Device the loop uses.
type Device interface {
	Update(ctx context.Context) error
	State() loadbank.DeviceState
	SetLoad(ctx context.Context, on bool) error
	Zero(ctx context.Context) error
	ApplySetpoint(ctx context.Context, x float64) error
	SetConstantCurrent(ctx context.Context, x float64) error
	SetConstantVoltage(ctx context.Context, x float64) error
	Raw(ctx context.Context, command, value string) (string, error)
}

type Options struct {
	Device Device
	// Scheduler is optional.
	Scheduler    *scheduler.Scheduler
	Sink         results.Sink
	PollInterval time.Duration
	AutoHold     bool
	Hold         HoldConfig
	Logger       *zap.Logger
}

// Snapshot is the state published after every tick and command.
type Snapshot struct {
	RunID      uuid.UUID             `json:"run_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Elapsed    time.Duration         `json:"elapsed"`
	Device     loadbank.DeviceState  `json:"device"`
	Setpoint   float64               `json:"setpoint"`
	Schedule   *scheduler.Status     `json:"schedule,omitempty"`
	AutoHold   bool                  `json:"auto_hold"`
	HoldTarget float64               `json:"hold_target"`
	LastError  string                `json:"last_error,omitempty"`
	Ticks      uint64                `json:"ticks"`
	Transition *scheduler.Transition `json:"-"`
}

type Controller struct {
	device       Device
	sched        *scheduler.Scheduler
	sink         results.Sink
	pollInterval time.Duration
	hold         HoldConfig
	logger       *zap.Logger

	runID   uuid.UUID
	started time.Time

	requests chan request
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the control goroutine.
	autoHold    bool
	holdTarget  float64
	transitions []scheduler.Transition
	ticks       uint64
	lastErr     error

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []func(Snapshot)
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = results.Discard
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	opts.Hold.applyDefaults()

	c := &Controller{
		device:       opts.Device,
		sched:        opts.Scheduler,
		sink:         opts.Sink,
		pollInterval: opts.PollInterval,
		hold:         opts.Hold,
		logger:       opts.Logger,
		runID:        uuid.New(),
		started:      time.Now(),
		requests:     make(chan request),
		done:         make(chan struct{}),
		autoHold:     opts.AutoHold,
	}
	if c.sched != nil {
		c.sched.OnTransition(func(t scheduler.Transition) {
			c.transitions = append(c.transitions, t)
		})
	}
	return c
}

func (c *Controller) RunID() uuid.UUID {
	return c.runID
}

// OnSnapshot registers fn to receive every published snapshot. Register
// before Run.
func (c *Controller) OnSnapshot(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Snapshot returns the last published state. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Run is the control loop. It returns when ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.done) })

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.logger.Info("Control loop started",
		zap.String("run_id", c.runID.String()),
		zap.Duration("poll_interval", c.pollInterval),
		zap.Bool("auto_hold", c.autoHold))

	if c.autoHold {
		c.enableHold(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Control loop stopped", zap.Uint64("ticks", c.ticks))
			return nil
		case req := <-c.requests:
			text, err := c.Execute(ctx, req.cmd)
			req.reply <- response{text: text, err: err}
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Submit hands cmd to the running loop and waits for the outcome.
func (c *Controller) Submit(ctx context.Context, cmd Command) (string, error) {
	req := request{cmd: cmd, reply: make(chan response, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.text, resp.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Tick runs one control step. Only the control goroutine may call it.
func (c *Controller) Tick(ctx context.Context) {
	c.ticks++
	c.lastErr = nil

	if err := c.device.Update(ctx); err != nil {
		c.fail("update", err)
	} else if c.autoHold {
		c.holdStep(ctx)
	}

	if c.sched != nil {
		c.advanceProfile(ctx)
	}

	c.handleTransitions(ctx)
	c.record(ctx)
	c.publish(nil)
}

// Execute performs cmd. Only the control goroutine may call it; other
// goroutines use Submit.
func (c *Controller) Execute(ctx context.Context, cmd Command) (string, error) {
	c.logger.Info("Command received", zap.String("command", cmd.String()))

	text, err := c.execute(ctx, cmd)
	c.handleTransitions(ctx)
	if err != nil {
		c.logger.Warn("Command failed", zap.String("command", cmd.String()), zap.Error(err))
	}
	c.publish(nil)
	return text, err
}

func (c *Controller) execute(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Kind {
	case CommandLoad:
		return "", c.device.SetLoad(ctx, cmd.On)

	case CommandAuto:
		if cmd.On {
			c.enableHold(ctx)
			return fmt.Sprintf("Voltage hold set to %gV", c.holdTarget), nil
		}
		return "", c.disableHold(ctx)

	case CommandProfile:
		return "", c.profile(cmd.Action)

	case CommandCurrent:
		return "", c.device.SetConstantCurrent(ctx, cmd.Value)

	case CommandVoltage:
		if c.device.State().Mode == loadbank.ModeVoltage {
			return "", c.device.SetConstantVoltage(ctx, cmd.Value)
		}
		c.holdTarget = cmd.Value
		return fmt.Sprintf("Voltage hold target %gV", cmd.Value), nil

	case CommandSetpoint:
		if c.autoHold {
			c.holdTarget = cmd.Value
			return "", nil
		}
		return "", c.device.ApplySetpoint(ctx, cmd.Value)

	case CommandRaw:
		return c.device.Raw(ctx, cmd.RawCommand, cmd.RawValue)

	default:
		return "", fmt.Errorf("unknown command: %s", cmd.Kind)
	}
}

func (c *Controller) profile(action scheduler.Command) error {
	if c.sched == nil {
		return ErrNoProfile
	}

	switch action {
	case scheduler.CommandStart:
		if c.sched.State() == scheduler.StatePaused {
			return c.sched.Resume()
		}
		return c.sched.Start()
	case scheduler.CommandPause:
		return c.sched.Pause()
	case scheduler.CommandResume:
		return c.sched.Resume()
	case scheduler.CommandStop:
		return c.sched.Stop()
	default:
		return fmt.Errorf("unknown profile action: %s", action)
	}
}

func (c *Controller) advanceProfile(ctx context.Context) {
	res, err := c.sched.Run()
	if err != nil {
		c.fail("profile", err)
	}
	if res.End {
		c.logger.Info("Profile complete", zap.Float64("last_setpoint", res.Setpoint))
		return
	}
	if !res.Changed {
		return
	}

	c.logger.Info("Profile setpoint",
		zap.Float64("setpoint", res.Setpoint),
		zap.Duration("pseudo_time", c.sched.PseudoTime()))

	if c.autoHold {
		c.holdTarget = res.Setpoint
		return
	}
	if err := c.device.ApplySetpoint(ctx, res.Setpoint); err != nil {
		c.fail("apply setpoint", err)
	}
}

// handleTransitions reacts to scheduler state changes: the load follows the
// run, and leaving the running state zeroes it and drops the voltage hold.
func (c *Controller) handleTransitions(ctx context.Context) {
	pending := c.transitions
	c.transitions = nil

	for i := range pending {
		t := pending[i]
		switch {
		case t.To == scheduler.StateRunning:
			if err := c.device.SetLoad(ctx, true); err != nil {
				c.fail("load on", err)
			}
		case t.From == scheduler.StateRunning:
			if err := c.device.SetLoad(ctx, false); err != nil {
				c.fail("load off", err)
			}
			if err := c.device.Zero(ctx); err != nil {
				c.fail("zero", err)
			}
			c.autoHold = false
		}
		c.publish(&t)
	}
}

func (c *Controller) enableHold(ctx context.Context) {
	c.holdTarget = c.device.State().Voltage
	c.autoHold = true
	if err := c.device.SetLoad(ctx, true); err != nil {
		c.fail("load on", err)
	}
	c.logger.Info("Voltage hold enabled", zap.Float64("target", c.holdTarget))
}

func (c *Controller) disableHold(ctx context.Context) error {
	if !c.autoHold {
		return nil
	}
	c.autoHold = false
	c.logger.Info("Voltage hold disabled")
	if err := c.device.SetLoad(ctx, false); err != nil {
		return err
	}
	return c.device.Zero(ctx)
}

func (c *Controller) holdStep(ctx context.Context) {
	s := c.device.State()
	if !s.LoadOn {
		return
	}
	next := HoldCurrent(s.Voltage, c.holdTarget, s.ConstantCurrent, c.hold)
	if next == s.ConstantCurrent {
		return
	}
	if err := c.device.SetConstantCurrent(ctx, next); err != nil {
		c.fail("voltage hold", err)
	}
}

func (c *Controller) record(ctx context.Context) {
	s := c.device.State()
	setpoint, _ := s.Setpoint(s.Mode)

	sample := results.Sample{
		RunID:     c.runID,
		Timestamp: time.Now(),
		Elapsed:   time.Since(c.started),
		Mode:      s.Mode.String(),
		ModeCode:  s.Mode.MatlabCode(),
		Setpoint:  setpoint,
		Voltage:   s.Voltage,
		Current:   s.Current,
		Power:     s.Power,
		LoadOn:    s.LoadOn,
	}
	if c.sched != nil {
		sample.Profile = string(c.sched.State())
	}

	if err := c.sink.Record(ctx, sample); err != nil {
		c.fail("record", err)
	}
}

// fail logs a per-exchange error; the loop carries on.
func (c *Controller) fail(step string, err error) {
	c.lastErr = fmt.Errorf("%s: %w", step, err)
	c.logger.Warn("Control step failed", zap.String("step", step), zap.Error(err))
}

func (c *Controller) publish(t *scheduler.Transition) {
	s := c.device.State()
	setpoint, _ := s.Setpoint(s.Mode)

	snap := Snapshot{
		RunID:      c.runID,
		Timestamp:  time.Now(),
		Elapsed:    time.Since(c.started),
		Device:     s,
		Setpoint:   setpoint,
		AutoHold:   c.autoHold,
		HoldTarget: c.holdTarget,
		Ticks:      c.ticks,
		Transition: t,
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	if c.sched != nil {
		st := c.sched.Status()
		snap.Schedule = &st
	}

	c.mu.Lock()
	c.snapshot = snap
	listeners := append([]func(Snapshot){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Close closes the results sink.
func (c *Controller) Close() error {
	return c.sink.Close()
}
