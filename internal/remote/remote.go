package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/symdeploy/internal/domain/release"
)

// Remote is the set of capabilities a deploy needs from the target host.
// Every call blocks until the remote side answers or ctx is done.
type Remote interface {
	// Run executes a shell command as the login user and returns combined output.
	Run(ctx context.Context, cmd string) (string, error)
	// Sudo executes a shell command through non-interactive sudo without a pty.
	Sudo(ctx context.Context, cmd string) (string, error)
	// Upload copies a local file to a remote path, replacing it if present.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Exists reports whether a path exists without following symlinks.
	Exists(ctx context.Context, p string) (bool, error)
	// ReadDir lists a directory using lstat information.
	ReadDir(ctx context.Context, dir string) ([]release.Entry, error)
	// ReadLink returns the target of a symlink.
	ReadLink(ctx context.Context, p string) (string, error)
	// Symlink creates link pointing at target.
	Symlink(ctx context.Context, target, link string) error
	// Rename moves from to to, replacing to if it exists.
	Rename(ctx context.Context, from, to string) error
	// Remove deletes a file or symlink; a missing path is not an error.
	Remove(ctx context.Context, p string) error
	// RemoveAll deletes a path recursively.
	RemoveAll(ctx context.Context, p string) error
	// RealPath resolves p to an absolute path.
	RealPath(ctx context.Context, p string) (string, error)
	// CreateExclusive writes a new file and fails with ErrExist if it is present.
	CreateExclusive(ctx context.Context, p string, data []byte) error
	// ReadFile returns the contents of a remote file.
	ReadFile(ctx context.Context, p string) ([]byte, error)
	// Close releases the connection.
	Close() error
}

var (
	// ErrCommandFailed is matched by every CommandError.
	ErrCommandFailed = errors.New("remote command failed")
	// ErrExist is returned by CreateExclusive when the path is already present.
	ErrExist = errors.New("remote path already exists")
	// ErrNotExist is returned when a remote path is missing.
	ErrNotExist = errors.New("remote path does not exist")
)

// CommandError describes a remote command that exited with a non-zero status.
type CommandError struct {
	Command    string
	Output     string
	ExitStatus int
	Err        error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%q exited with status %d", e.Command, e.ExitStatus)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}

	return msg
}

// Unwrap returns the underlying transport error, if any.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCommandFailed) match.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	safe := true

	for _, c := range s {
		if !isSafeShellRune(c) {
			safe = false
			break
		}
	}

	if safe {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafeShellRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case strings.ContainsRune("-_./=:@%+,", c):
		return true
	default:
		return false
	}
}
