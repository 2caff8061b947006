package copilot

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to the matching sentinel where one exists.
var (
	// ErrChannelClosed is returned by writes once the process has exited,
	// is stopping, or was force-stopped.
	ErrChannelClosed = errors.New("channel closed")

	// ErrTimeout is returned when a request is not answered within its bound.
	ErrTimeout = errors.New("request timed out")

	// ErrDiscovery is wrapped by every DiscoveryError.
	ErrDiscovery = errors.New("model discovery failed")

	ErrAlreadyStarted  = errors.New("already started")
	ErrNotStarted      = errors.New("not started")
	ErrSessionClosed   = errors.New("session closed")
	ErrShutdownTimeout = errors.New("shutdown grace period elapsed")

	// ErrUnknownModel is returned by ResolveModel in strict mode when the
	// requested model is not offered by the subprocess.
	ErrUnknownModel = errors.New("unknown model")
)

// SpawnError reports that the subprocess could not be launched.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("spawn copilot: %v", e.Err)
	}
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// errExecutableNotFound is the cause carried by SpawnError when lookup fails.
var errExecutableNotFound = errors.New("executable not found")

// DecodeError describes a frame that could not be turned into an Event.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame %q: %v", truncateForLog(e.Line), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DiscoveryError is returned by ListModels.
type DiscoveryError struct {
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model discovery failed: %s: %v", e.Reason, e.Err)
	}
	return "model discovery failed: " + e.Reason
}

// Unwrap exposes both ErrDiscovery and the underlying cause.
func (e *DiscoveryError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDiscovery, e.Err}
	}
	return []error{ErrDiscovery}
}

// InvalidConfigError is returned by CreateSession before any I/O happens.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid session config: %s: %s", e.Field, e.Reason)
}

// SessionError carries a session.error event back to the waiting caller.
type SessionError struct {
	SessionID string
	RequestID string
	Message   string
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session %s: request %s failed", e.SessionID, e.RequestID)
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Message)
}

// ShutdownError aggregates everything that went wrong during Client.Stop.
// Callers are expected to follow a ShutdownError with ForceStop.
type ShutdownError struct {
	Errs []error
}

func (e *ShutdownError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "graceful shutdown failed: " + strings.Join(msgs, "; ")
}

func (e *ShutdownError) Unwrap() []error { return e.Errs }
