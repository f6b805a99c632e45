package websocket

import (
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/control"
	"github.com/KevinKickass/OpenLoadbank/internal/scheduler"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Periodic readings, one per control tick or command
	MessageTypeTelemetry MessageType = "telemetry"

	// Profile run state changes
	MessageTypeScheduleState MessageType = "schedule_state"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// TelemetryData is the subset of a snapshot a live view needs.
type TelemetryData struct {
	RunID      string  `json:"run_id"`
	Mode       string  `json:"mode"`
	Setpoint   float64 `json:"setpoint"`
	Voltage    float64 `json:"voltage"`
	Current    float64 `json:"current"`
	Power      float64 `json:"power"`
	LoadOn     bool    `json:"load_on"`
	AutoHold   bool    `json:"auto_hold"`
	HoldTarget float64 `json:"hold_target"`
	Profile    string  `json:"profile,omitempty"`
	LastError  string  `json:"last_error,omitempty"`
}

// ScheduleStateData represents a scheduler state change
type ScheduleStateData struct {
	State      string  `json:"state"`
	Previous   string  `json:"previous_state"`
	Reason     string  `json:"reason,omitempty"`
	PseudoTime float64 `json:"pseudo_time_s"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewTelemetryMessage(s control.Snapshot) Message {
	d := TelemetryData{
		RunID:      s.RunID.String(),
		Mode:       s.Device.Mode.String(),
		Setpoint:   s.Setpoint,
		Voltage:    s.Device.Voltage,
		Current:    s.Device.Current,
		Power:      s.Device.Power,
		LoadOn:     s.Device.LoadOn,
		AutoHold:   s.AutoHold,
		HoldTarget: s.HoldTarget,
		LastError:  s.LastError,
	}
	if s.Schedule != nil {
		d.Profile = string(s.Schedule.State)
	}
	msg := NewMessage(MessageTypeTelemetry, d)
	msg.Timestamp = s.Timestamp
	return msg
}

func NewScheduleStateMessage(t scheduler.Transition, pseudoTime time.Duration) Message {
	return Message{
		Type:      MessageTypeScheduleState,
		Timestamp: t.At,
		Data: ScheduleStateData{
			State:      string(t.To),
			Previous:   string(t.From),
			Reason:     t.Reason,
			PseudoTime: pseudoTime.Seconds(),
		},
	}
}

// MessageFor picks the message a snapshot is broadcast as.
func MessageFor(s control.Snapshot) Message {
	if s.Transition != nil {
		var pt time.Duration
		if s.Schedule != nil {
			pt = s.Schedule.PseudoTime
		}
		return NewScheduleStateMessage(*s.Transition, pt)
	}
	return NewTelemetryMessage(s)
}
