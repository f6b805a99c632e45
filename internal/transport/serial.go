package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const DefaultBaudRate = 9600

// SerialOptions configures an RS-232 connection to the loadbank.
type SerialOptions struct {
	Port     string
	BaudRate int
	Password string

	PasswordTimeout time.Duration
	RejectWindow    time.Duration

	Logger *zap.Logger
}

type serialStream struct {
	serial.Port
}

func (s *serialStream) setReadTimeout(d time.Duration) error {
	return s.SetReadTimeout(d)
}

// OpenSerial opens the loadbank's serial port with 8N1 framing. The line
// discipline is the same as Dial; telnet command decoding is disabled.
func OpenSerial(opts SerialOptions) (*Conn, error) {
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.PasswordTimeout <= 0 {
		opts.PasswordTimeout = DefaultPasswordTimeout
	}
	if opts.RejectWindow <= 0 {
		opts.RejectWindow = DefaultRejectWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnect, opts.Port, err)
	}

	conn := newConn(opts.Port, &serialStream{Port: port}, false, opts.Logger)

	if opts.Password != "" {
		if err := conn.login(opts.Password, opts.PasswordTimeout, opts.RejectWindow); err != nil {
			conn.Close()
			return nil, err
		}
	}

	opts.Logger.Info("Loadbank connected",
		zap.String("port", opts.Port),
		zap.Int("baud_rate", opts.BaudRate))

	return conn, nil
}
