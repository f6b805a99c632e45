package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	readBufferSize = 512

	// DefaultFlushWindow bounds how long FlushPending waits for late bytes.
	DefaultFlushWindow = 5 * time.Millisecond

	// maxFlushReads caps a flush against a device that never stops talking.
	maxFlushReads = 64
)

// stream is the raw byte pipe under a Conn: a TCP socket or a serial port.
type stream interface {
	io.ReadWriteCloser
	setReadTimeout(d time.Duration) error
}

// Conn is a line-buffered connection to a loadbank. It is owned by a single
// control goroutine; only Close may be called concurrently.
type Conn struct {
	address string
	stream  stream
	logger  *zap.Logger

	telnet      bool
	iac         iacDecoder
	flushWindow time.Duration

	pending []byte
	buf     []byte

	mu     sync.Mutex
	closed bool
}

func newConn(address string, s stream, telnet bool, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		address:     address,
		stream:      s,
		logger:      logger,
		telnet:      telnet,
		flushWindow: DefaultFlushWindow,
		buf:         make([]byte, readBufferSize),
	}
}

// Address returns the host:port or serial device name.
func (c *Conn) Address() string {
	return c.address
}

// Write sends p as-is.
func (c *Conn) Write(p []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	if _, err := c.stream.Write(p); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// ReadUntil returns everything up to and including the first token. When the
// timeout elapses first it returns whatever was accumulated, possibly
// nothing, without an error.
func (c *Conn) ReadUntil(token []byte, timeout time.Duration) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		if len(token) > 0 {
			if i := bytes.Index(c.pending, token); i >= 0 {
				return c.take(i + len(token)), nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.take(len(c.pending)), nil
		}

		timedOut, err := c.fill(remaining)
		if err != nil {
			return c.take(len(c.pending)), err
		}
		if timedOut {
			return c.take(len(c.pending)), nil
		}
	}
}

// FlushPending drops buffered bytes plus anything arriving within the flush
// window, so a late reply from a previous exchange is never read as the
// answer to the next one.
func (c *Conn) FlushPending() error {
	if c.isClosed() {
		return ErrClosed
	}

	dropped := len(c.pending)
	c.pending = c.pending[:0]

	for i := 0; i < maxFlushReads; i++ {
		before := len(c.pending)
		timedOut, err := c.fill(c.flushWindow)
		dropped += len(c.pending) - before
		c.pending = c.pending[:0]
		if err != nil {
			return err
		}
		if timedOut {
			break
		}
	}

	if dropped > 0 {
		c.logger.Debug("Flushed stale bytes",
			zap.String("address", c.address),
			zap.Int("bytes", dropped))
	}
	return nil
}

// Close closes the underlying stream. Calling it more than once is safe.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// take removes and returns the first n pending bytes.
func (c *Conn) take(n int) []byte {
	out := make([]byte, n)
	copy(out, c.pending[:n])
	c.pending = append(c.pending[:0], c.pending[n:]...)
	return out
}

// fill performs one read bounded by d and appends the decoded bytes.
func (c *Conn) fill(d time.Duration) (timedOut bool, err error) {
	if err := c.stream.setReadTimeout(d); err != nil {
		return false, fmt.Errorf("set read timeout: %w", err)
	}

	n, err := c.stream.Read(c.buf)
	if n > 0 {
		c.absorb(c.buf[:n])
	}
	if err != nil {
		if isTimeout(err) {
			return true, nil
		}
		if c.isClosed() {
			return false, ErrClosed
		}
		return false, fmt.Errorf("read failed: %w", err)
	}
	// Serial ports report a timeout as a zero-length read.
	return n == 0, nil
}

func (c *Conn) absorb(raw []byte) {
	if !c.telnet {
		c.pending = append(c.pending, raw...)
		return
	}

	data, reply := c.iac.decode(raw)
	c.pending = append(c.pending, data...)
	if len(reply) > 0 {
		if _, err := c.stream.Write(reply); err != nil {
			c.logger.Warn("Telnet negotiation reply failed",
				zap.String("address", c.address),
				zap.Error(err))
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
