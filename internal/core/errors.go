package core

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by initiate while another call is active.
	ErrBusy = errors.New("a call is already active")
	// ErrUnknownRoom marks an inbound event with no matching session.
	// Expected under normal termination races; logged, never surfaced.
	ErrUnknownRoom = errors.New("no session for room")
	// ErrNoPendingCall is returned by accept/reject without a pending offer.
	ErrNoPendingCall = errors.New("no pending incoming call")
	// ErrSessionClosed is returned by operations on a terminated session.
	ErrSessionClosed = errors.New("session already terminated")
	// ErrBackpressure is returned by the signal adapter when its send buffer
	// is full.
	ErrBackpressure = errors.New("signal send buffer full")
)

// MediaEngineError wraps a failure inside the media engine. User-visible:
// it terminates the affected session.
type MediaEngineError struct {
	Op  string
	Err error
}

func (e *MediaEngineError) Error() string {
	return fmt.Sprintf("media engine %s: %v", e.Op, e.Err)
}

func (e *MediaEngineError) Unwrap() error { return e.Err }
