// Package coordinator drives the remote side of a release: it unpacks a
// revision, swaps the current and prev symlinks, restarts the service and
// prunes old revision directories. Every transition is a named step so a
// failure reports how far the host got.
package coordinator
