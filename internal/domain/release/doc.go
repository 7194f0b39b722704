// Package release contains the domain types of a symlink-swap deployment.
//
// A deploy root on the remote host holds one directory per Revision plus the
// current and prev symlinks. Layout resolves paths inside the root, State
// describes which symlinks exist, and Expired decides which revision
// directories fall outside the retention window.
package release
