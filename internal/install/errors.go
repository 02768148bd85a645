package install

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes for install failures. Callers branch on these with
// errors.As/errors.Is to decide exit codes and user guidance; the installer
// never retries internally.

// NetworkError wraps a failed download. Retryable by re-invoking the
// installer once connectivity is back.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error downloading %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DiskSpaceError reports insufficient free space before a download starts.
type DiskSpaceError struct {
	Path     string
	Required uint64
	Free     uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("not enough disk space at %s: need %d bytes, %d free", e.Path, e.Required, e.Free)
}

// PermissionError reports a filesystem permission failure that automatic
// remediation could not fix. Remedy holds the exact commands the user should
// run manually; it is printed, not parsed.
type PermissionError struct {
	Path   string
	Err    error
	Remedy []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied at %s: %v", e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// RemedyText renders the manual fix instructions, one command per line.
func (e *PermissionError) RemedyText() string {
	return strings.Join(e.Remedy, "\n")
}

// DependencyMissingError reports a required external tool (git, dotnet)
// absent from PATH. Fatal; carries install instructions.
type DependencyMissingError struct {
	Tool   string
	Remedy string
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("required tool %q not found in PATH", e.Tool)
}

// CorruptArchiveError reports a download or extraction that produced
// something other than the expected artifact. Partial outputs are removed
// before this is returned.
type CorruptArchiveError struct {
	Path   string
	Reason string
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt artifact %s: %s", e.Path, e.Reason)
}

// IsFatalDependency reports whether err is a missing-dependency failure.
func IsFatalDependency(err error) bool {
	var dep *DependencyMissingError
	return errors.As(err, &dep)
}
