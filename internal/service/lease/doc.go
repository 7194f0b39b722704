// Package lease implements the advisory lock a deploy holds on the remote
// deploy root. The lock is a YAML file created with O_EXCL; contenders wait
// with exponential backoff and break leases that outlived the stale timeout.
package lease
