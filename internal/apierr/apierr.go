// Package apierr defines the error taxonomy shared by the sandbox, workspace,
// runtime, gateway and server layers.
package apierr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Callers compare with errors.Is; layers that need the
// associated value use errors.As against the typed wrappers below.
var (
	ErrInvalidPath        = errors.New("invalid path")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrNoSandbox          = errors.New("no sandbox")
	ErrAborted            = errors.New("aborted")
	ErrSpawnError         = errors.New("spawn error")
	ErrRuntimeUnavailable = errors.New("sandbox runtime unavailable")
	ErrImageMissing       = errors.New("sandbox image missing")
	ErrMalformed          = errors.New("malformed request")
)

// Timeout carries the budget that was exceeded.
type Timeout struct {
	Seconds int
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout after %ds", e.Seconds) }
func (e *Timeout) Is(target error) bool {
	_, ok := target.(*Timeout)
	return ok
}

func NewTimeout(seconds int) error { return &Timeout{Seconds: seconds} }

// Conflict carries the server's current mtime so the caller can report
// serverModified.
type Conflict struct {
	ServerMtime int64
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("conflict: server mtime %d", e.ServerMtime)
}
func (e *Conflict) Is(target error) bool {
	if target == ErrConflict {
		return true
	}
	_, ok := target.(*Conflict)
	return ok
}

func NewConflict(serverMtime int64) error { return &Conflict{ServerMtime: serverMtime} }

// SpawnFailure wraps the underlying cause of a failed container runtime spawn.
type SpawnFailure struct {
	Cause error
}

func (e *SpawnFailure) Error() string { return fmt.Sprintf("spawn error: %v", e.Cause) }
func (e *SpawnFailure) Unwrap() error { return e.Cause }
func (e *SpawnFailure) Is(target error) bool {
	return target == ErrSpawnError
}

func NewSpawnError(cause error) error { return &SpawnFailure{Cause: cause} }
