package sandbox

import (
	"errors"
	"fmt"
)

// ErrHandleDestroyed is returned when a command targets a handle that has
// already been released or reaped.
var ErrHandleDestroyed = errors.New("sandbox handle destroyed")

// ProvisionError reports that an isolated environment could not be created.
// It does not fail the turn; the dispatcher converts it into a failed tool
// result.
type ProvisionError struct {
	Reason string
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sandbox provisioning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sandbox provisioning failed: %s", e.Reason)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// ExecutionError reports a command that ran but exited non-zero. The handle
// stays alive; the model sees stdout/stderr and decides what to do next.
type ExecutionError struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sandbox command exited with code %d", e.ExitCode)
}
