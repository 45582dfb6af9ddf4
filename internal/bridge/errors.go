package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportClosed resolves every outstanding call when the worker
	// process exits or the read loop stops.
	ErrTransportClosed = errors.New("bridge: transport closed")

	// ErrStartupTimeout means the worker never signaled READY.
	ErrStartupTimeout = errors.New("bridge: worker startup timed out")
)

// TimeoutError is returned by Call when no response arrived in time.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bridge: command %q timed out", e.Command)
}

// RemoteError carries a failure reported by the worker itself.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge: worker rejected %q: %s", e.Command, e.Message)
}
