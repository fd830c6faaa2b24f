package backup

import (
	"errors"
	"fmt"
)

// ErrTimeout marks a remote command or transfer that exceeded its deadline.
var ErrTimeout = errors.New("operation timed out")

// ConfigError is a malformed or incomplete target declaration. It is fatal
// and raised before any host is contacted.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError means a session to a host could not be established.
// The host is skipped.
type ConnectionError struct {
	Host     string
	Hostname string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s (%s): %v", e.Host, e.Hostname, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

// JobRef locates one (host, parent, child) job so it can be re-run.
type JobRef struct {
	Host   string
	Parent string
	Child  string
}

func (r JobRef) String() string {
	return fmt.Sprintf("host=%s parent=%s child=%s", r.Host, r.Parent, r.Child)
}

// ArchiveError is a failed remote archive command.
type ArchiveError struct {
	Job        JobRef
	ExitStatus int
	Err        error
}

func (e *ArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive %s: %v", e.Job, e.Err)
	}
	return fmt.Sprintf("archive %s: exit status %d", e.Job, e.ExitStatus)
}
func (e *ArchiveError) Unwrap() error { return e.Err }

// TransferError is a failed fetch or verification after a successful archive.
type TransferError struct {
	Job JobRef
	Err error
}

func (e *TransferError) Error() string { return fmt.Sprintf("transfer %s: %v", e.Job, e.Err) }
func (e *TransferError) Unwrap() error { return e.Err }

// CleanupWarning is a failed remote deletion. It is logged, never escalated.
type CleanupWarning struct {
	Job        JobRef
	TempPath   string
	ExitStatus int
	Err        error
}

func (e *CleanupWarning) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cleanup %s path=%s: %v", e.Job, e.TempPath, e.Err)
	}
	return fmt.Sprintf("cleanup %s path=%s: exit status %d", e.Job, e.TempPath, e.ExitStatus)
}
func (e *CleanupWarning) Unwrap() error { return e.Err }

// DestinationError means the local destination root cannot be created.
// It is fatal to the whole run.
type DestinationError struct {
	Path string
	Err  error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination %s: %v", e.Path, e.Err)
}
func (e *DestinationError) Unwrap() error { return e.Err }
