// Package simulator provides an in-process loadbank that speaks the
// line protocol over TCP. It backs the tests and cmd/loadbank-sim.
package simulator

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	ModeVoltage = "VOLTAGE"
	ModeCurrent = "CURRENT"
	ModePower   = "POWER"
)

const garbage = "#~%"

// Loadbank is a simulated device. All exported methods are safe for
// concurrent use.
type Loadbank struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	regs    Registers
	drop    int
	garble  int
	sets    []string
	queries int

	listener net.Listener
	wg       sync.WaitGroup
	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	closed   bool
}

func New(cfg Config, logger *zap.Logger) *Loadbank {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loadbank{
		cfg:    cfg,
		logger: logger,
		regs:   cfg.Initial,
		drop:   cfg.DropReplies,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves
// clients in the background.
func (l *Loadbank) Start(addr string) error {
	if addr == "" {
		addr = l.cfg.ListenAddress
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	l.listener = ln

	l.wg.Add(1)
	go l.acceptLoop()

	l.logger.Info("Simulated loadbank listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Host and Port report the listening address.
func (l *Loadbank) Host() string {
	return l.listener.Addr().(*net.TCPAddr).IP.String()
}

func (l *Loadbank) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the listener and drops every client.
func (l *Loadbank) Close() error {
	l.connsMu.Lock()
	if l.closed {
		l.connsMu.Unlock()
		return nil
	}
	l.closed = true
	for c := range l.conns {
		c.Close()
	}
	l.connsMu.Unlock()

	var err error
	if l.listener != nil {
		err = l.listener.Close()
	}
	l.wg.Wait()
	return err
}

// DropNext makes the next n queries go unanswered.
func (l *Loadbank) DropNext(n int) {
	l.mu.Lock()
	l.drop = n
	l.mu.Unlock()
}

// GarbleNext makes the next n queries get an unlabelled noise reply.
func (l *Loadbank) GarbleNext(n int) {
	l.mu.Lock()
	l.garble = n
	l.mu.Unlock()
}

// Registers returns a copy of the device memory.
func (l *Loadbank) Registers() Registers {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.regs
}

// SetRegisters replaces the device memory.
func (l *Loadbank) SetRegisters(r Registers) {
	l.mu.Lock()
	l.regs = r
	l.mu.Unlock()
}

// Sets returns every set command received, e.g. "ci 2.0".
func (l *Loadbank) Sets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sets...)
}

// Queries returns how many queries were received.
func (l *Loadbank) Queries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries
}

func (l *Loadbank) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Warn("Accept failed", zap.Error(err))
			}
			return
		}

		l.connsMu.Lock()
		if l.closed {
			l.connsMu.Unlock()
			conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.connsMu.Unlock()

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() {
				l.connsMu.Lock()
				delete(l.conns, conn)
				l.connsMu.Unlock()
				conn.Close()
			}()
			l.serve(conn)
		}()
	}
}

func (l *Loadbank) serve(conn net.Conn) {
	r := bufio.NewReader(conn)

	if l.cfg.Password != "" && !l.authenticate(conn, r) {
		return
	}

	for {
		line, err := r.ReadString('\r')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if l.cfg.EchoCommands {
			conn.Write([]byte(line + "\r"))
		}

		reply, answer := l.handle(line)
		if !answer {
			continue
		}
		if l.cfg.ReplyDelay > 0 {
			time.Sleep(l.cfg.ReplyDelay)
		}
		if _, err := conn.Write([]byte(reply + "\r")); err != nil {
			return
		}
	}
}

func (l *Loadbank) authenticate(conn net.Conn, r *bufio.Reader) bool {
	for tries := 0; tries < 3; tries++ {
		if _, err := conn.Write([]byte("Password ? ")); err != nil {
			return false
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return false
		}
		if strings.TrimSpace(line) == l.cfg.Password {
			return true
		}
	}
	return false
}

// handle applies one line and returns the reply, if any.
func (l *Loadbank) handle(line string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if strings.HasSuffix(line, "?") {
		l.queries++
		cmd := strings.ToLower(strings.TrimSuffix(line, "?"))
		if l.drop > 0 {
			l.drop--
			return "", false
		}
		if l.garble > 0 {
			l.garble--
			return garbage, true
		}
		return l.query(cmd), true
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	l.sets = append(l.sets, strings.ToLower(fields[0])+" "+fields[1])
	l.set(strings.ToLower(fields[0]), fields[1])
	return "", false
}

func (l *Loadbank) query(cmd string) string {
	v, i, p := l.measure()
	switch cmd {
	case "v":
		return num(v, "volts")
	case "i":
		return num(i, "amps")
	case "p":
		return num(p, "watts")
	case "cv":
		return num(l.regs.ConstVoltage, "volts")
	case "ci":
		return num(l.regs.ConstCurrent, "amps")
	case "cp":
		return num(l.regs.ConstPower, "watts")
	case "vl":
		return num(l.regs.VoltageLimit, "volts")
	case "il":
		return num(l.regs.CurrentLimit, "amps")
	case "pl":
		return num(l.regs.PowerLimit, "watts")
	case "uv":
		return num(l.regs.VoltageMinimum, "volts")
	case "rng":
		return strconv.Itoa(l.regs.Range) + " AMP"
	case "load":
		if l.regs.Load {
			return "load on"
		}
		return "load off"
	case "mode":
		return "mode " + l.regs.Mode
	default:
		return "ERR"
	}
}

func (l *Loadbank) set(cmd, value string) {
	switch cmd {
	case "load":
		l.regs.Load = strings.EqualFold(value, "on") || value == "1"
		return
	case "mode":
		if m := parseMode(value); m != "" {
			l.regs.Mode = m
		}
		return
	case "rng":
		if n, err := strconv.Atoi(value); err == nil {
			l.regs.Range = n
		}
		return
	}

	x, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}
	switch cmd {
	case "cv", "v":
		l.regs.ConstVoltage = x
	case "ci", "i":
		l.regs.ConstCurrent = x
	case "cp":
		l.regs.ConstPower = x
	case "vl":
		l.regs.VoltageLimit = x
	case "il":
		l.regs.CurrentLimit = x
	case "pl":
		l.regs.PowerLimit = x
	case "uv":
		l.regs.VoltageMinimum = x
	}
}

// measure solves the source model for the active mode.
func (l *Loadbank) measure() (v, i, p float64) {
	voc, r := l.cfg.SourceVoltage, l.cfg.SourceResistance
	if !l.regs.Load {
		return voc, 0, 0
	}

	switch l.regs.Mode {
	case ModeVoltage:
		v = clamp(l.regs.ConstVoltage, 0, voc)
		i = (voc - v) / r
	case ModePower:
		// Lower root of P = (voc - r*i) * i.
		disc := voc*voc - 4*r*l.regs.ConstPower
		if disc < 0 {
			disc = 0
		}
		i = (voc - math.Sqrt(disc)) / (2 * r)
		v = voc - r*i
	default:
		i = clamp(l.regs.ConstCurrent, 0, voc/r)
		v = voc - r*i
	}
	return v, i, v * i
}

func parseMode(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "vo"), strings.Contains(s, "cv"):
		return ModeVoltage
	case strings.Contains(s, "cu"), strings.Contains(s, "ci"), strings.Contains(s, "cc"):
		return ModeCurrent
	case strings.Contains(s, "po"), strings.Contains(s, "cp"):
		return ModePower
	}
	return ""
}

func num(x float64, unit string) string {
	return strconv.FormatFloat(x, 'f', -1, 64) + " " + unit
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
