// Package deployer runs a whole deploy: local preflight checks, build and
// test scripts, packaging, and the remote release under a lease. It also
// exposes the maintenance operations of the CLI (rollback, releases, prune).
package deployer
