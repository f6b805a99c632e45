package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenLoadbank/internal/control"
)

var ErrUnknownCommand = errors.New("unknown command")

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionHelp
	ActionTime
	ActionElectric
	ActionVoltage
	ActionCurrent
	ActionPower
	ActionAuto
	ActionProfile
	// ActionCommand submits Action.Command to the control loop.
	ActionCommand
	ActionQuit
)

// Action is one parsed operator line.
type Action struct {
	Kind    ActionKind
	Command control.Command
}

// Parse turns one typed line into an Action. Queries end in '?'; changes
// take a single argument, except raw which takes one or two.
func Parse(line string) (Action, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Action{Kind: ActionNone}, nil
	}
	word, args := fields[0], fields[1:]

	if len(args) == 0 {
		switch word {
		case "help", "?":
			return Action{Kind: ActionHelp}, nil
		case "time?":
			return Action{Kind: ActionTime}, nil
		case "elec?":
			return Action{Kind: ActionElectric}, nil
		case "v?":
			return Action{Kind: ActionVoltage}, nil
		case "i?":
			return Action{Kind: ActionCurrent}, nil
		case "p?":
			return Action{Kind: ActionPower}, nil
		case "auto?":
			return Action{Kind: ActionAuto}, nil
		case "profile?":
			return Action{Kind: ActionProfile}, nil
		case "quit", "exit", "q":
			return Action{Kind: ActionQuit}, nil
		}
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownCommand, word)
	}

	if word == "raw" {
		switch len(args) {
		case 1:
			return command(control.RawCommand(args[0], "")), nil
		case 2:
			return command(control.RawCommand(args[0], args[1])), nil
		}
		return Action{}, fmt.Errorf("%w: raw takes a command and an optional value", ErrUnknownCommand)
	}

	if len(args) != 1 {
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownCommand, line)
	}
	arg := args[0]

	switch word {
	case "load":
		on, err := control.ParseOnOff(arg)
		if err != nil {
			return Action{}, err
		}
		return command(control.LoadCommand(on)), nil

	case "auto":
		on, err := control.ParseOnOff(arg)
		if err != nil {
			return Action{}, err
		}
		return command(control.AutoCommand(on)), nil

	case "profile":
		action, err := control.ParseProfileAction(arg)
		if err != nil {
			return Action{}, fmt.Errorf("unknown command '%s', try [on, pause, off]: %w", arg, err)
		}
		return command(control.ProfileCommand(action)), nil

	case "i", "v", "set":
		x, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return Action{}, fmt.Errorf("%s: %q is not a number", word, arg)
		}
		switch word {
		case "i":
			return command(control.CurrentCommand(x)), nil
		case "v":
			return command(control.VoltageCommand(x)), nil
		default:
			return command(control.SetpointCommand(x)), nil
		}
	}

	return Action{}, fmt.Errorf("%w: %s", ErrUnknownCommand, word)
}

func command(cmd control.Command) Action {
	return Action{Kind: ActionCommand, Command: cmd}
}
