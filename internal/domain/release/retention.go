package release

import (
	"slices"
	"strings"
	"time"
)

// DefaultRetention is how many revision directories are kept by default.
const DefaultRetention = 5

// Entry is one item of a remote directory listing, classified by lstat.
type Entry struct {
	Name      string
	ModTime   time.Time
	IsDir     bool
	IsSymlink bool
}

// SortOldestFirst orders entries by modification time, oldest first.
// Entries with equal times are ordered by name so the result is stable.
func SortOldestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}

		return strings.Compare(a.Name, b.Name)
	})
}

// Revisions returns the entries that are real revision directories, oldest first.
// Symlinks are skipped no matter how they are named.
func Revisions(entries []Entry) []Entry {
	sorted := slices.Clone(entries)
	SortOldestFirst(sorted)

	result := make([]Entry, 0, len(sorted))

	for _, e := range sorted {
		if e.IsSymlink || !e.IsDir || !IsRevision(e.Name) {
			continue
		}

		result = append(result, e)
	}

	return result
}

// Expired returns the names of revision directories that fall outside the
// newest keep, oldest first. Names in protected are never returned.
func Expired(entries []Entry, keep int, protected map[string]struct{}) []string {
	if keep < 0 {
		keep = 0
	}

	candidates := Revisions(entries)
	if len(candidates) <= keep {
		return nil
	}

	expired := make([]string, 0, len(candidates)-keep)

	for _, e := range candidates[:len(candidates)-keep] {
		if _, ok := protected[e.Name]; ok {
			continue
		}

		expired = append(expired, e.Name)
	}

	return expired
}
