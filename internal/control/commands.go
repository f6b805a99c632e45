package control

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenLoadbank/internal/loadbank"
	"github.com/KevinKickass/OpenLoadbank/internal/scheduler"
)

type CommandKind string

const (
	CommandLoad     CommandKind = "load"
	CommandProfile  CommandKind = "profile"
	CommandCurrent  CommandKind = "current"
	CommandVoltage  CommandKind = "voltage"
	CommandSetpoint CommandKind = "setpoint"
	CommandAuto     CommandKind = "auto"
	CommandRaw      CommandKind = "raw"
)

// Command is a request handled on the control goroutine.
type Command struct {
	Kind CommandKind

	// On is used by CommandLoad and CommandAuto.
	On bool
	// Action is used by CommandProfile.
	Action scheduler.Command
	// Value is used by CommandCurrent, CommandVoltage and CommandSetpoint.
	Value float64

	// Raw exchange.
	RawCommand string
	RawValue   string
}

func LoadCommand(on bool) Command { return Command{Kind: CommandLoad, On: on} }
func AutoCommand(on bool) Command { return Command{Kind: CommandAuto, On: on} }
func ProfileCommand(action scheduler.Command) Command { return Command{Kind: CommandProfile, Action: action} }
func CurrentCommand(x float64) Command { return Command{Kind: CommandCurrent, Value: x} }
func VoltageCommand(x float64) Command { return Command{Kind: CommandVoltage, Value: x} }
func SetpointCommand(x float64) Command { return Command{Kind: CommandSetpoint, Value: x} }

func RawCommand(command, value string) Command {
	return Command{Kind: CommandRaw, RawCommand: command, RawValue: value}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandLoad, CommandAuto:
		if c.On {
			return string(c.Kind) + " on"
		}
		return string(c.Kind) + " off"
	case CommandProfile:
		return "profile " + string(c.Action)
	case CommandRaw:
		if c.RawValue == "" {
			return c.RawCommand + "?"
		}
		return c.RawCommand + " " + c.RawValue
	default:
		return fmt.Sprintf("%s %v", c.Kind, c.Value)
	}
}

// ParseOnOff accepts "on" and "off" in any case.
func ParseOnOff(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: want on or off, got %q", loadbank.ErrInvalidArgument, s)
}

// ParseProfileAction maps both the operator words (on, off) and the
// scheduler commands onto a scheduler.Command.
func ParseProfileAction(s string) (scheduler.Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "start":
		return scheduler.CommandStart, nil
	case "pause":
		return scheduler.CommandPause, nil
	case "resume":
		return scheduler.CommandResume, nil
	case "off", "stop":
		return scheduler.CommandStop, nil
	}
	return "", fmt.Errorf("%w: unknown profile action %q", loadbank.ErrInvalidArgument, s)
}

type request struct {
	cmd   Command
	reply chan response
}

type response struct {
	text string
	err  error
}
