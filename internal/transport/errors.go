package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect is returned when the stream cannot be opened or the login
	// exchange fails. It is fatal to the session.
	ErrConnect = errors.New("loadbank connect failed")

	// ErrPasswordRejected means the device asked for the password again
	// after it was sent.
	ErrPasswordRejected = fmt.Errorf("%w: password rejected", ErrConnect)

	// ErrClosed is returned by operations on a closed Conn.
	ErrClosed = errors.New("connection closed")
)
