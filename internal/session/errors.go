package session

import "fmt"

// PermissionError reports that the microphone could not be acquired or
// started. It is fatal to the session.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("session: microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConnectionError reports a failure to open the remote session or to keep
// talking to it. It is fatal to the session.
type ConnectionError struct {
	// Op is "connect", "receive" or "send".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TeardownError reports a resource that failed to release while closing.
// It is logged and never stops the session from reaching Closed.
type TeardownError struct {
	// Resource is "capture", "remote" or "playback".
	Resource string
	Err      error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("session: release %s: %v", e.Resource, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
