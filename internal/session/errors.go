package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization means the analyzer never answered the identity
	// request within the retry budget. The session cannot be used.
	ErrInitialization = errors.New("analyzer initialization failed")
	ErrNotReady       = errors.New("session is not ready")
	ErrClosed         = errors.New("session is closed")
	ErrNoSettings     = errors.New("no sweep settings applied")
	ErrUnsupportedRBW = errors.New("resolution bandwidth not supported by analyzer")
)

// TransportError wraps a failed read or write on the session transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
