package protocol

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultMaxAttempts = 10
)

// Transport is the line-buffered byte stream the client talks over.
type Transport interface {
	Write(p []byte) error
	ReadUntil(token []byte, timeout time.Duration) ([]byte, error)
	FlushPending() error
	Close() error
}

// Decoder validates a reply that already carries the expected token. A
// non-nil error makes the exchange count as failed and be retried.
type Decoder func(reply string) error

type Options struct {
	ReadTimeout time.Duration
	MaxAttempts int
	Logger      *zap.Logger
}

// Client runs command exchanges with bounded retries. It is not safe for
// concurrent use; the device processes one command at a time anyway.
type Client struct {
	transport   Transport
	readTimeout time.Duration
	maxAttempts int
	logger      *zap.Logger
}

func NewClient(transport Transport, opts Options) *Client {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		transport:   transport,
		readTimeout: opts.ReadTimeout,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}
}

// MaxAttempts returns the retry bound.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}

// Execute sends command (a query when value is empty, otherwise a set
// followed by a query) and returns the trimmed reply line.
func (c *Client) Execute(ctx context.Context, command, value string) (string, error) {
	return c.ExecuteWith(ctx, command, value, nil)
}

// ExecuteFloat runs Execute and parses the first field of the reply. A reply
// that does not parse is retried like an empty one.
func (c *Client) ExecuteFloat(ctx context.Context, command, value string) (float64, error) {
	var result float64
	_, err := c.ExecuteWith(ctx, command, value, func(reply string) error {
		v, err := ParseFloat(reply)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// ExecuteWith is Execute with an extra reply check.
func (c *Client) ExecuteWith(ctx context.Context, command, value string, decode Decoder) (string, error) {
	frame := Encode(command, value)
	token := ExpectedToken(command)
	kind := KindOf(value)

	var (
		lastReply string
		lastCause error
	)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%s %q: %w", kind, command, err)
		}

		reply, err := c.roundTrip(ctx, frame, token)
		if err != nil {
			return "", fmt.Errorf("%s %q: %w", kind, command, err)
		}

		switch {
		case reply == "":
			lastCause = nil
		case decode != nil:
			if lastCause = decode(reply); lastCause == nil {
				return reply, nil
			}
		default:
			return reply, nil
		}
		lastReply = reply

		c.logger.Debug("Retrying exchange",
			zap.String("command", command),
			zap.String("kind", kind.String()),
			zap.Int("attempt", attempt),
			zap.String("reply", reply))
	}

	uerr := &UnresponsiveError{
		Command:   command,
		Kind:      kind,
		Attempts:  c.maxAttempts,
		LastReply: lastReply,
		Cause:     lastCause,
	}
	c.logger.Warn("Loadbank exchange gave up",
		zap.String("command", command),
		zap.Int("attempts", c.maxAttempts),
		zap.String("last_reply", lastReply))
	return "", uerr
}

// roundTrip is one full flush, write, read cycle.
func (c *Client) roundTrip(ctx context.Context, frame []byte, token string) (string, error) {
	timeout := c.readTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	if err := c.transport.FlushPending(); err != nil {
		return "", err
	}
	if err := c.transport.Write(frame); err != nil {
		return "", err
	}

	raw, err := c.transport.ReadUntil([]byte(token), timeout)
	if err != nil {
		return "", err
	}
	return extractReply(raw, token), nil
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ParseFloat decodes the first field of a reply such as "12.3 volts".
func ParseFloat(reply string) (float64, error) {
	field := Field(reply, 0)
	if field == "" {
		return 0, fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedReply, field)
	}
	return v, nil
}

// FormatValue renders a setpoint the way the device expects it.
func FormatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
