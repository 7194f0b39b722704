package release

import "path"

const (
	// CurrentLink is the symlink pointing at the active revision directory.
	CurrentLink = "current"
	// PrevLink is the symlink pointing at the previously active revision directory.
	PrevLink = "prev"
	// LeaseFile is the advisory lock file held while a deploy mutates the root.
	LeaseFile = ".symdeploy.lock"
)

// Layout resolves names inside a remote deploy root.
// Root may be relative to the remote user's home directory.
type Layout struct {
	Root string
}

// NewLayout returns a layout for the given deploy root.
func NewLayout(root string) Layout {
	return Layout{Root: path.Clean(root)}
}

// Current returns the path of the current symlink.
func (l Layout) Current() string {
	return path.Join(l.Root, CurrentLink)
}

// Prev returns the path of the prev symlink.
func (l Layout) Prev() string {
	return path.Join(l.Root, PrevLink)
}

// Dir returns the directory holding the unpacked revision.
func (l Layout) Dir(r Revision) string {
	return path.Join(l.Root, r.String())
}

// Archive returns the remote upload path of the revision archive.
func (l Layout) Archive(r Revision) string {
	return path.Join(l.Root, r.ArchiveName())
}

// Lease returns the path of the advisory lock file.
func (l Layout) Lease() string {
	return path.Join(l.Root, LeaseFile)
}

// Entry returns the path of a named entry in the root.
func (l Layout) Entry(name string) string {
	return path.Join(l.Root, name)
}
