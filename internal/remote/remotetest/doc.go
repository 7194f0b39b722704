// Package remotetest provides an in-memory remote.Remote for tests.
package remotetest
