package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport answers each ReadUntil with the next scripted reply and
// then with silence.
type scriptedTransport struct {
	replies  []string
	readErr  error
	writes   []string
	flushes  int
	reads    int
	timeouts []time.Duration
	closed   bool
}

func (s *scriptedTransport) Write(p []byte) error {
	s.writes = append(s.writes, string(p))
	return nil
}

func (s *scriptedTransport) ReadUntil(token []byte, timeout time.Duration) ([]byte, error) {
	s.timeouts = append(s.timeouts, timeout)
	if s.readErr != nil {
		return nil, s.readErr
	}
	defer func() { s.reads++ }()
	if s.reads < len(s.replies) {
		return []byte(s.replies[s.reads]), nil
	}
	return nil, nil
}

func (s *scriptedTransport) FlushPending() error {
	s.flushes++
	return nil
}

func (s *scriptedTransport) Close() error {
	s.closed = true
	return nil
}

func silentThen(n int, reply string) []string {
	replies := make([]string, n, n+1)
	return append(replies, reply)
}

func TestExecuteQuery(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"12.3 volts"}}
	c := NewClient(tr, Options{})

	reply, err := c.Execute(context.Background(), "v", "")
	require.NoError(t, err)
	assert.Equal(t, "12.3 volts", reply)
	assert.Equal(t, []string{"v?\r"}, tr.writes)
	assert.Equal(t, 1, tr.flushes)
}

func TestExecuteRetryConvergence(t *testing.T) {
	const maxAttempts = 5

	tests := []struct {
		name    string
		silent  int
		wantErr bool
	}{
		{"first try", 0, false},
		{"below bound", maxAttempts - 1, false},
		{"at bound", maxAttempts, true},
		{"beyond bound", maxAttempts + 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{replies: silentThen(tt.silent, "2.0 amps")}
			c := NewClient(tr, Options{MaxAttempts: maxAttempts})

			v, err := c.ExecuteFloat(context.Background(), "ci", "2.0")
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnresponsive)
				var uerr *UnresponsiveError
				require.True(t, errors.As(err, &uerr))
				assert.Equal(t, maxAttempts, uerr.Attempts)
				assert.Equal(t, "ci", uerr.Command)
				assert.Equal(t, KindSet, uerr.Kind)
				assert.Len(t, tr.writes, maxAttempts)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2.0, v)
			assert.Len(t, tr.writes, tt.silent+1)
		})
	}
}

func TestRetryResendsFullFrame(t *testing.T) {
	tr := &scriptedTransport{replies: silentThen(2, "1.5 amps")}
	c := NewClient(tr, Options{})

	_, err := c.Execute(context.Background(), "ci", "1.5")
	require.NoError(t, err)
	assert.Equal(t, []string{"ci 1.5\rci?\r", "ci 1.5\rci?\r", "ci 1.5\rci?\r"}, tr.writes)
	assert.Equal(t, 3, tr.flushes)
}

func TestUnlabelledReplyIsRetried(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"#~%\r", "load?\r", "4.5 watts"}}
	c := NewClient(tr, Options{})

	v, err := c.ExecuteFloat(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, 4.5, v)
	assert.Len(t, tr.writes, 3)
}

func TestMalformedNumberIsRetried(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"abc amps", "0.25 amps"}}
	c := NewClient(tr, Options{})

	v, err := c.ExecuteFloat(context.Background(), "i", "")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
	assert.Len(t, tr.writes, 2)
}

func TestMalformedToTheEnd(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"x volts", "y volts"}}
	c := NewClient(tr, Options{MaxAttempts: 2})

	_, err := c.ExecuteFloat(context.Background(), "v", "")
	require.ErrorIs(t, err, ErrUnresponsive)
	assert.ErrorIs(t, err, ErrMalformedReply)

	var uerr *UnresponsiveError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "y volts", uerr.LastReply)
}

func TestEchoedFrameIsIgnored(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"cv 3.0\rcv?\r3.0 volts"}}
	c := NewClient(tr, Options{})

	v, err := c.ExecuteFloat(context.Background(), "cv", "3.0")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}

func TestTransportErrorIsNotRetried(t *testing.T) {
	boom := errors.New("boom")
	tr := &scriptedTransport{readErr: boom}
	c := NewClient(tr, Options{})

	_, err := c.Execute(context.Background(), "v", "")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUnresponsive)
	assert.Len(t, tr.writes, 1)
}

func TestCancelledContext(t *testing.T) {
	tr := &scriptedTransport{}
	c := NewClient(tr, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Execute(ctx, "v", "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.writes)
}

func TestDeadlineShortensReadTimeout(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"1 volts"}}
	c := NewClient(tr, Options{ReadTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := c.Execute(ctx, "v", "")
	require.NoError(t, err)
	require.Len(t, tr.timeouts, 1)
	assert.LessOrEqual(t, tr.timeouts[0], time.Second)
}

func TestTerminatorOnlyCommand(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"\r", "mode CURRENT\r"}}
	c := NewClient(tr, Options{})

	reply, err := c.Execute(context.Background(), "mode", "")
	require.NoError(t, err)
	assert.Equal(t, "mode CURRENT", reply)
	assert.Len(t, tr.writes, 2)
}

func TestTruncatedReplyIsRetried(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"lo", "load on\r"}}
	c := NewClient(tr, Options{})

	reply, err := c.Execute(context.Background(), "load", "")
	require.NoError(t, err)
	assert.Equal(t, "load on", reply)
	assert.Len(t, tr.writes, 2)
}

func TestTruncatedToTheEnd(t *testing.T) {
	tr := &scriptedTransport{replies: []string{"load o", "load o"}}
	c := NewClient(tr, Options{MaxAttempts: 2})

	_, err := c.Execute(context.Background(), "load", "")
	assert.ErrorIs(t, err, ErrUnresponsive)
	assert.Len(t, tr.writes, 2)
}

func TestClose(t *testing.T) {
	tr := &scriptedTransport{}
	c := NewClient(tr, Options{})
	require.NoError(t, c.Close())
	assert.True(t, tr.closed)
	assert.Equal(t, DefaultMaxAttempts, c.MaxAttempts())
}
