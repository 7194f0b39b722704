package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version is the release version, overridden via ldflags.
	Version = "0.1.0"
	// Commit is the git SHA the binary was built from.
	Commit = ""
	// BuildTime is the UTC build timestamp.
	BuildTime = ""
)

// Short returns only the semantic version string.
func Short() string {
	return Version
}

// Full returns the version with commit and build time.
func Full() string {
	commit, built := Commit, BuildTime
	if commit == "" || built == "" {
		stampedCommit, stampedTime, modified := stamp()
		if commit == "" {
			commit = stampedCommit
			if modified {
				commit += "-dirty"
			}
		}

		if built == "" {
			built = stampedTime
		}
	}

	return fmt.Sprintf("symdeploy %s, commit: %s, built at: %s", Version, orUnknown(commit), orUnknown(built))
}

// stamp reads the VCS settings embedded by the go tool.
func stamp() (string, string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", "", false
	}

	var (
		revision, at string
		modified     bool
	)

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}

	if revision == "" {
		return "", at, false
	}

	return revision, at, modified
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
