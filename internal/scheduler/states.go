package scheduler

import "time"

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

type Command string

const (
	CommandStart  Command = "start"
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandStop   Command = "stop"
)

// Transition is passed to OnTransition hooks.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State        State         `json:"state"`
	Profile      string        `json:"profile"`
	PseudoTime   time.Duration `json:"pseudo_time"`
	Row          int           `json:"row"`
	Rows         int           `json:"rows"`
	LastSetpoint float64       `json:"last_setpoint"`
}

// Result is what Run yields.
type Result struct {
	Setpoint float64
	// Changed is set when Setpoint differs from the last applied one.
	Changed bool
	// End is set exactly once, on the call that stopped the run because the
	// profile ran out.
	End   bool
	State State
}
