package release

import "time"

// Phase names the remote state by which symlinks exist.
type Phase int

const (
	// Empty means no current symlink exists yet.
	Empty Phase = iota
	// Active means current points at a revision directory.
	Active
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	if p == Active {
		return "active"
	}

	return "empty"
}

// State captures the symlinks of a deploy root.
type State struct {
	// Current is the revision current points at, empty in the Empty phase.
	Current Revision
	// Prev is the revision prev points at, empty if prev is absent.
	Prev Revision
	// HasCurrent is set when the current symlink exists, even if its target
	// is not a valid revision name.
	HasCurrent bool
	// HasPrev is set when the prev symlink exists.
	HasPrev bool
}

// Phase returns the phase derived from the symlinks.
func (s State) Phase() Phase {
	if s.HasCurrent {
		return Active
	}

	return Empty
}

// Protected returns the revisions that must never be pruned.
func (s State) Protected() map[string]struct{} {
	protected := make(map[string]struct{}, 2)

	if s.Current != "" {
		protected[s.Current.String()] = struct{}{}
	}

	if s.Prev != "" {
		protected[s.Prev.String()] = struct{}{}
	}

	return protected
}

// Actor identifies who performed an action.
type Actor struct {
	// Hostname is the machine the deploy was started from.
	Hostname string `yaml:"hostname"`
	// Username is the local user who started the deploy.
	Username string `yaml:"username"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// Release describes one revision directory found in the deploy root.
type Release struct {
	Revision Revision
	ModTime  time.Time
	Current  bool
	Prev     bool
}
