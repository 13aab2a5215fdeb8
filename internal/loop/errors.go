package loop

import "errors"

var (
	// ErrWorkspace wraps a failed write, commit or revert. It aborts the run
	// because the work tree may no longer match the session's bookkeeping.
	ErrWorkspace = errors.New("workspace operation failed")
	// ErrNoWorkspace is returned when a non-dry run has no workspace.
	ErrNoWorkspace = errors.New("no workspace configured")
)
