// Package localexec runs the local build and test scripts and inspects the
// local process table.
package localexec
