package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresponsive is returned when every attempt of an exchange produced
	// an empty, unlabelled or undecodable reply.
	ErrUnresponsive = errors.New("loadbank unresponsive")

	// ErrMalformedReply is returned by decoders for replies that carry the
	// expected token but cannot be interpreted.
	ErrMalformedReply = errors.New("malformed reply")
)

// UnresponsiveError records the exchange that gave up.
type UnresponsiveError struct {
	Command   string
	Kind      Kind
	Attempts  int
	LastReply string
	Cause     error
}

func (e *UnresponsiveError) Error() string {
	msg := fmt.Sprintf("%s %q: no valid reply after %d attempts", e.Kind, e.Command, e.Attempts)
	if e.LastReply != "" {
		msg += fmt.Sprintf(" (last reply %q)", e.LastReply)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnresponsiveError) Is(target error) bool {
	return target == ErrUnresponsive
}

func (e *UnresponsiveError) Unwrap() error {
	return e.Cause
}
