package isolation

import "errors"

// Sentinel errors for session lifecycle failures. Those returned by
// OpenSession indicate an unsafe starting state and should abort the run.
var (
	ErrNotRepository    = errors.New("not a git repository")
	ErrDirtyWorkTree    = errors.New("working tree has uncommitted changes")
	ErrBranchExists     = errors.New("session branch already exists")
	ErrBaseModified     = errors.New("base branch tip changed during session")
	ErrWrongBranch      = errors.New("not on session branch")
	ErrOutsideRepo      = errors.New("path is outside the repository")
	ErrNotTracked       = errors.New("file was not tracked by the session")
	ErrAlreadyCommitted = errors.New("file already committed in this session")
	ErrNoChanges        = errors.New("file has no changes to commit")
	ErrSessionClosed    = errors.New("session is closed")
)
