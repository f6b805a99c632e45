package loadbank

import (
	"fmt"
	"strings"
)

// Mode is the regulation mode of the load.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeVoltage
	ModeCurrent
	ModePower
)

func (m Mode) String() string {
	switch m {
	case ModeVoltage:
		return "VOLTAGE"
	case ModeCurrent:
		return "CURRENT"
	case ModePower:
		return "POWER"
	default:
		return "UNKNOWN"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Register returns the constant-setpoint command for the mode ("cv", "ci",
// "cp"), or "" for ModeUnknown.
func (m Mode) Register() string {
	switch m {
	case ModeVoltage:
		return "cv"
	case ModeCurrent:
		return "ci"
	case ModePower:
		return "cp"
	default:
		return ""
	}
}

// MatlabCode is the numeric mode used in result logs.
func (m Mode) MatlabCode() int {
	switch m {
	case ModeCurrent:
		return 1
	case ModeVoltage:
		return 2
	case ModePower:
		return 3
	default:
		return 999
	}
}

// modePatterns is checked in order; the first substring found wins.
var modePatterns = []struct {
	substr string
	mode   Mode
}{
	{"vo", ModeVoltage},
	{"cv", ModeVoltage},
	{"cu", ModeCurrent},
	{"ci", ModeCurrent},
	{"po", ModePower},
	{"cp", ModePower},
}

// ParseMode maps device replies ("mode CURRENT") and operator input ("cv",
// "Voltage") to a Mode. Text matching no pattern is ErrInvalidArgument.
func ParseMode(s string) (Mode, error) {
	lower := strings.ToLower(s)
	for _, p := range modePatterns {
		if strings.Contains(lower, p.substr) {
			return p.mode, nil
		}
	}
	return ModeUnknown, fmt.Errorf("%w: unrecognised mode %q", ErrInvalidArgument, s)
}

// DeviceState is the client-side cache of the device. The setpoints are the
// values this client last wrote or primed; they are advisory and may differ
// from the device's own registers.
type DeviceState struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Power   float64 `json:"power"`

	Mode Mode `json:"mode"`

	ConstantVoltage float64 `json:"constant_voltage"`
	ConstantCurrent float64 `json:"constant_current"`
	ConstantPower   float64 `json:"constant_power"`

	VoltageLimit   float64 `json:"voltage_limit"`
	CurrentLimit   float64 `json:"current_limit"`
	PowerLimit     float64 `json:"power_limit"`
	VoltageMinimum float64 `json:"voltage_minimum"`

	LoadOn bool `json:"load_on"`
	Range  int  `json:"range"`
}

// Setpoint returns the cached setpoint for m.
func (s *DeviceState) Setpoint(m Mode) (float64, bool) {
	switch m {
	case ModeVoltage:
		return s.ConstantVoltage, true
	case ModeCurrent:
		return s.ConstantCurrent, true
	case ModePower:
		return s.ConstantPower, true
	default:
		return 0, false
	}
}

func (s *DeviceState) setSetpoint(m Mode, v float64) {
	switch m {
	case ModeVoltage:
		s.ConstantVoltage = v
	case ModeCurrent:
		s.ConstantCurrent = v
	case ModePower:
		s.ConstantPower = v
	}
}
