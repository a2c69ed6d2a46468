package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected or connecting")
	ErrClosed           = errors.New("transport: connection is closed")
)

// ConnectionError reports that the socket could not be established. The
// Connection is closed afterwards; retry with a new instance.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError reports a read or write failure on an established
// connection, including the peer closing it. It is fatal to the Connection.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
