// Package version reports which symdeploy build is running. Version, Commit
// and BuildTime are set through -ldflags; a plain `go build` falls back to
// the VCS stamp the toolchain embeds in the binary.
package version
