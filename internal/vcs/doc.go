// Package vcs reads the state of the local source tree with go-git: whether
// the working tree is clean and which commit is checked out.
package vcs
