package release

import (
	"errors"
	"fmt"
)

// RevisionLength is the length of a full commit hash in hex characters.
const RevisionLength = 40

// shortRevisionLength is how many characters Short keeps for log output.
const shortRevisionLength = 8

// ErrInvalidRevision is returned when a string is not a full hex commit hash.
var ErrInvalidRevision = errors.New("invalid revision identifier")

// Revision is the full commit hash naming one deployable build.
// Archive and remote directory names use it verbatim.
type Revision string

// ParseRevision validates s as a 40-character hex hash.
// Uppercase input is rejected rather than normalized so that the name
// on the remote host is always exactly what git reports.
func ParseRevision(s string) (Revision, error) {
	if len(s) != RevisionLength {
		return "", fmt.Errorf("%w: %q has %d characters, want %d", ErrInvalidRevision, s, len(s), RevisionLength)
	}

	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidRevision, s, c)
		}
	}

	return Revision(s), nil
}

// IsRevision reports whether name is a valid revision directory name.
func IsRevision(name string) bool {
	_, err := ParseRevision(name)
	return err == nil
}

// String returns the revision as a plain string.
func (r Revision) String() string {
	return string(r)
}

// Short returns an abbreviated revision for log messages.
func (r Revision) Short() string {
	if len(r) <= shortRevisionLength {
		return string(r)
	}

	return string(r[:shortRevisionLength])
}

// ArchiveName returns the file name of the deploy archive for the revision.
func (r Revision) ArchiveName() string {
	return string(r) + ".zip"
}
