// Package scheduler plays a setpoint profile against wall-clock time with
// pause and resume. Time spent paused does not count against the profile.
package scheduler

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/profile"
	"go.uber.org/zap"
)

var (
	ErrProfileFile       = errors.New("profile file unavailable")
	ErrInvalidTransition = errors.New("invalid scheduler transition")
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Options struct {
	Path   string
	Clock  Clock
	Logger *zap.Logger
}

// cachedIndex lets a restart of the same unchanged file skip the scan.
type cachedIndex struct {
	path    string
	size    int64
	modTime time.Time
	idx     *profile.Index
}

type Scheduler struct {
	clock  Clock
	logger *zap.Logger

	mu    sync.Mutex
	path  string
	state State
	store *profile.Store
	cache *cachedIndex

	startTime        time.Time
	pausedAt         time.Time
	accumulatedPause time.Duration

	// pointer is the next row to examine.
	pointer     int
	lastApplied float64
	// lastAdvance is the pseudo-time at which a row was last consumed.
	lastAdvance time.Duration

	hooks []func(Transition)
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		clock:  opts.Clock,
		logger: opts.Logger,
		path:   opts.Path,
		state:  StateStopped,
	}
}

// OnTransition registers fn to run after every state change. Hooks run on
// the goroutine that caused the change, without the scheduler lock held.
func (s *Scheduler) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// SetPath selects the profile used by the next Start.
func (s *Scheduler) SetPath(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return fmt.Errorf("%w: cannot change profile while %s", ErrInvalidTransition, s.state)
	}
	s.path = path
	return nil
}

func (s *Scheduler) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the profile and begins a run at pseudo-time zero.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start: scheduler must be stopped (current: %s)", ErrInvalidTransition, s.state)
	}

	store, err := s.openLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.store = store
	s.startTime = s.clock.Now()
	s.pausedAt = time.Time{}
	s.accumulatedPause = 0
	s.pointer = 0
	s.lastApplied = 0
	s.lastAdvance = 0
	t := s.setStateLocked(StateRunning, "start")
	path, rows := s.path, store.Len()
	s.mu.Unlock()

	s.logger.Info("Profile started", zap.String("profile", path), zap.Int("rows", rows))
	s.fire(t)
	return nil
}

// Pause toggles between running and paused.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.pausedAt = s.clock.Now()
		t := s.setStateLocked(StatePaused, "pause")
		s.mu.Unlock()
		s.fire(t)
		return nil
	case StatePaused:
		t := s.resumeLocked()
		s.mu.Unlock()
		s.fire(t)
		return nil
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot pause: scheduler not running (current: %s)", ErrInvalidTransition, state)
	}
}

// Resume continues a paused run from the pseudo-time it paused at.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot resume: scheduler not paused (current: %s)", ErrInvalidTransition, state)
	}
	t := s.resumeLocked()
	s.mu.Unlock()
	s.fire(t)
	return nil
}

// Stop ends the run and releases the profile. It does nothing when already
// stopped.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	t, err := s.stopLocked("stop")
	s.mu.Unlock()
	s.fire(t)
	return err
}

// PseudoTime is the elapsed run time minus time spent paused.
func (s *Scheduler) PseudoTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pseudoTimeLocked()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:        s.state,
		Profile:      s.path,
		PseudoTime:   s.pseudoTimeLocked(),
		Row:          s.pointer,
		LastSetpoint: s.lastApplied,
	}
	if s.store != nil {
		st.Rows = s.store.Len()
	}
	return st
}

// Run advances the profile to the current pseudo-time.
//
// While running it consumes every row whose time has been reached and
// yields the setpoint of the last one. Once the rows are exhausted and
// pseudo-time has moved past the final row, the run stops and the result
// carries End. While paused or stopped the last applied setpoint is
// returned unchanged.
func (s *Scheduler) Run() (Result, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		r := Result{Setpoint: s.lastApplied, State: s.state}
		s.mu.Unlock()
		return r, nil
	}

	now := s.pseudoTimeLocked()
	nowSeconds := now.Seconds()

	var (
		setpoint float64
		consumed bool
		endErr   error
	)
	for {
		row, err := s.store.RowAt(s.pointer)
		if err != nil {
			endErr = err
			break
		}
		if row.Time > nowSeconds {
			break
		}
		setpoint = row.Setpoint
		consumed = true
		s.pointer++
	}

	if consumed {
		s.lastAdvance = now
		changed := setpoint != s.lastApplied
		s.lastApplied = setpoint
		s.mu.Unlock()
		return Result{Setpoint: setpoint, Changed: changed, State: StateRunning}, nil
	}

	if endErr == nil || now <= s.lastAdvance {
		r := Result{Setpoint: s.lastApplied, State: StateRunning}
		s.mu.Unlock()
		return r, nil
	}

	reason := "end of data"
	if errors.Is(endErr, profile.ErrMalformedRow) {
		reason = "malformed row"
	}
	s.logger.Info("Profile finished",
		zap.String("profile", s.path),
		zap.Int("row", s.pointer),
		zap.Duration("pseudo_time", now),
		zap.String("reason", reason),
		zap.NamedError("cause", endErr))

	t, closeErr := s.stopLocked(reason)
	r := Result{Setpoint: s.lastApplied, End: true, State: StateStopped}
	s.mu.Unlock()
	s.fire(t)
	return r, closeErr
}

func (s *Scheduler) openLocked() (*profile.Store, error) {
	if s.path == "" {
		return nil, fmt.Errorf("%w: no profile selected", ErrProfileFile)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFile, err)
	}

	if c := s.cache; c != nil && c.path == s.path && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		store, err := profile.OpenWithIndex(s.path, c.idx)
		if err == nil {
			return store, nil
		}
		if !errors.Is(err, profile.ErrStaleIndex) {
			return nil, fmt.Errorf("%w: %w", ErrProfileFile, err)
		}
	}

	store, err := profile.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileFile, err)
	}
	s.cache = &cachedIndex{
		path:    s.path,
		size:    info.Size(),
		modTime: info.ModTime(),
		idx:     store.Index(),
	}
	return store, nil
}

func (s *Scheduler) resumeLocked() Transition {
	s.accumulatedPause += s.clock.Now().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	return s.setStateLocked(StateRunning, "resume")
}

func (s *Scheduler) stopLocked(reason string) (Transition, error) {
	var err error
	if s.store != nil {
		err = s.store.Close()
		s.store = nil
	}
	return s.setStateLocked(StateStopped, reason), err
}

func (s *Scheduler) pseudoTimeLocked() time.Duration {
	switch s.state {
	case StateRunning:
		return s.clock.Now().Sub(s.startTime) - s.accumulatedPause
	case StatePaused:
		return s.pausedAt.Sub(s.startTime) - s.accumulatedPause
	default:
		return 0
	}
}

func (s *Scheduler) setStateLocked(to State, reason string) Transition {
	t := Transition{From: s.state, To: to, Reason: reason, At: s.clock.Now()}
	s.state = to
	s.logger.Info("Scheduler state changed",
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("reason", reason))
	return t
}

func (s *Scheduler) fire(t Transition) {
	s.mu.Lock()
	hooks := append([]func(Transition){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(t)
	}
}
