package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PasswordPrompt is sent by the device when the session is password protected.
var PasswordPrompt = []byte("Password ? ")

const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultPasswordTimeout = 5 * time.Second
	DefaultWriteTimeout    = time.Second
	DefaultRejectWindow    = 250 * time.Millisecond
)

// Options configures a TCP (telnet) connection.
type Options struct {
	Host     string
	Port     int
	Password string

	DialTimeout     time.Duration
	PasswordTimeout time.Duration
	WriteTimeout    time.Duration
	// RejectWindow is how long to watch for a second password prompt.
	RejectWindow time.Duration

	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.PasswordTimeout <= 0 {
		o.PasswordTimeout = DefaultPasswordTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.RejectWindow <= 0 {
		o.RejectWindow = DefaultRejectWindow
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type netStream struct {
	net.Conn
	writeTimeout time.Duration
}

func (s *netStream) setReadTimeout(d time.Duration) error {
	return s.SetReadDeadline(time.Now().Add(d))
}

func (s *netStream) Write(p []byte) (int, error) {
	if err := s.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return 0, err
	}
	return s.Conn.Write(p)
}

// Dial opens a telnet session to the loadbank and performs the password
// exchange when a password is configured.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	opts.applyDefaults()
	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnect, address, err)
	}

	conn := newConn(address, &netStream{Conn: nc, writeTimeout: opts.WriteTimeout}, true, opts.Logger)

	if opts.Password != "" {
		if err := conn.login(opts.Password, opts.PasswordTimeout, opts.RejectWindow); err != nil {
			conn.Close()
			return nil, err
		}
	}

	opts.Logger.Info("Loadbank connected",
		zap.String("address", address),
		zap.Bool("password", opts.Password != ""))

	return conn, nil
}

func (c *Conn) login(password string, timeout, rejectWindow time.Duration) error {
	data, err := c.ReadUntil(PasswordPrompt, timeout)
	if err != nil {
		return fmt.Errorf("%w: waiting for password prompt: %w", ErrConnect, err)
	}
	if !bytes.HasSuffix(data, PasswordPrompt) {
		return fmt.Errorf("%w: no password prompt from %s within %s", ErrConnect, c.address, timeout)
	}

	if err := c.Write([]byte(password + "\r\n")); err != nil {
		return fmt.Errorf("%w: sending password: %w", ErrConnect, err)
	}

	again, err := c.ReadUntil(PasswordPrompt, rejectWindow)
	if err != nil {
		return fmt.Errorf("%w: after password: %w", ErrConnect, err)
	}
	if bytes.Contains(again, PasswordPrompt) {
		return ErrPasswordRejected
	}
	if len(again) > 0 {
		c.logger.Debug("Dropped bytes after login",
			zap.String("address", c.address),
			zap.Int("bytes", len(again)))
	}
	return nil
}
