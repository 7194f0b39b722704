// Package remote talks to the deploy target.
//
// Remote is the capability set the deployer depends on: running commands,
// uploading files and inspecting the deploy root. Client implements it with
// golang.org/x/crypto/ssh for commands and github.com/pkg/sftp for file
// operations, so symlinks are detected from lstat attributes instead of
// parsing `ls` output.
package remote
