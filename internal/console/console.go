// Package console is the interactive operator prompt. It reads from the
// controller snapshot and changes things only through Submit.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/KevinKickass/OpenLoadbank/internal/control"
	"github.com/KevinKickass/OpenLoadbank/internal/scheduler"
	"github.com/chzyer/readline"
)

// Controller is the part of *control.Controller the console uses.
type Controller interface {
	Snapshot() control.Snapshot
	Submit(ctx context.Context, cmd control.Command) (string, error)
}

type Console struct {
	ctrl    Controller
	rl      *readline.Instance
	out     io.Writer
	started time.Time
	now     func() time.Time
}

func New(ctrl Controller, started time.Time) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "loadbank> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(ctrl, rl.Stdout(), started)
	c.rl = rl
	return c, nil
}

func newConsole(ctrl Controller, out io.Writer, started time.Time) *Console {
	return &Console{
		ctrl:    ctrl,
		out:     out,
		started: started,
		now:     time.Now,
	}
}

// Stdout coordinates writes with the prompt. The operator binary points
// its logger here while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx is done. Leaving calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	fmt.Fprint(c.out, "\nType command:\n**Type 'help' for a full list**\n\n")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Handle(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Handle executes one line and reports whether the console should keep
// going.
func (c *Console) Handle(ctx context.Context, line string) bool {
	action, err := Parse(line)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", strings.TrimSpace(line))
			return true
		}
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return true
	}

	snap := c.ctrl.Snapshot()
	dev := snap.Device

	switch action.Kind {
	case ActionNone:
	case ActionQuit:
		return false
	case ActionHelp:
		fmt.Fprint(c.out, helpText)
	case ActionTime:
		now := c.now()
		fmt.Fprintf(c.out, "Epoch: %.3f\tDuration: %.3fs\n",
			float64(now.UnixMilli())/1000, now.Sub(c.started).Seconds())
	case ActionElectric:
		fmt.Fprintf(c.out, "Mode: %s\t%g\tV_load: %g\tI_load: %g\tP_load: %g\n",
			dev.Mode, snap.Setpoint, dev.Voltage, dev.Current, dev.Power)
	case ActionVoltage:
		fmt.Fprintf(c.out, "V_load: %g\n", dev.Voltage)
	case ActionCurrent:
		fmt.Fprintf(c.out, "I_load: %g\n", dev.Current)
	case ActionPower:
		fmt.Fprintf(c.out, "P_load: %g\n", dev.Power)
	case ActionAuto:
		state := "off"
		if snap.AutoHold {
			state = "on"
		}
		fmt.Fprintf(c.out, "Voltage controller %s, set to %gV\n", state, snap.HoldTarget)
	case ActionProfile:
		fmt.Fprintln(c.out, profileLine(snap.Schedule))
	case ActionCommand:
		c.submit(ctx, action.Command)
	}
	return true
}

func (c *Console) submit(ctx context.Context, cmd control.Command) {
	text, err := c.ctrl.Submit(ctx, cmd)
	switch {
	case errors.Is(err, control.ErrNoProfile):
		fmt.Fprintln(c.out, "No profile loaded. Restart the programme with -profile filename.txt")
	case err != nil:
		fmt.Fprintf(c.out, "Error: %v\n", err)
	case text != "":
		fmt.Fprintln(c.out, text)
	}
}

func profileLine(st *scheduler.Status) string {
	if st == nil {
		return "Profile stopped"
	}
	switch st.State {
	case scheduler.StateRunning:
		return fmt.Sprintf("Profile running (%s, row %d of %d)", st.PseudoTime.Round(time.Millisecond), st.Row, st.Rows)
	case scheduler.StatePaused:
		return fmt.Sprintf("Profile paused (%s)", st.PseudoTime.Round(time.Millisecond))
	default:
		return "Profile stopped"
	}
}

const helpText = `
Here is a list of available commands.

Time:
  time?            [epoch since_start]s

Electric data output:
  v?               [voltage]V
  i?               [current]A
  p?               [power]W
  elec?            [mode setpoint voltage current power]

Loadbank control:
  v 1.5            [set 1.5V, or the voltage hold target outside voltage mode]
  i 2.0            [set 2.0A]
  set 2.0          [set the setpoint of the active mode]
  load on
  load off
  auto?            [voltage controller state]
  auto on          [turn voltage controller on]
  auto off         [turn voltage controller off]
  raw <cmd> [val]  [send a device command verbatim]

Profile scheduler:
  profile?         [profile state]
  profile on       [start profile]
  profile pause    [pause profile]
  profile off      [stop profile]

  quit
`
