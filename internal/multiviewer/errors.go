package multiviewer

import "errors"

var (
	// ErrNotConnected is returned when the port is closed and a reconnect attempt failed.
	ErrNotConnected = errors.New("serial port not connected")

	// ErrTransportFailure wraps I/O errors raised mid-exchange. The connection is
	// marked down and the next Send reconnects.
	ErrTransportFailure = errors.New("serial communication error")
)
