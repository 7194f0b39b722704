package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/service/coordinator"
)

func rev(c string) release.Revision {
	return release.Revision(strings.Repeat(c, release.RevisionLength))
}

// TestPrinter_Message keeps plain output free of escape codes.
func TestPrinter_Message(t *testing.T) {
	t.Parallel()

	p := New(true)
	require.Equal(t, "hello world\n", p.Message(Success, "hello %s", "world"))
	require.Equal(t, "plain\n", p.Message(Plain, "plain"))
}

// TestPrinter_Releases lists newest first and marks the links.
func TestPrinter_Releases(t *testing.T) {
	t.Parallel()

	p := New(true)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	out, err := p.Releases([]release.Release{
		{Revision: rev("a"), ModTime: base},
		{Revision: rev("b"), ModTime: base.Add(time.Hour), Prev: true},
		{Revision: rev("c"), ModTime: base.Add(2 * time.Hour), Current: true},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, strings.ToLower(lines[0]), "revision")
	require.Contains(t, lines[1], rev("c").String())
	require.Contains(t, lines[1], "current")
	require.Contains(t, lines[2], "prev")
	require.Contains(t, lines[3], rev("a").String())

	out, err = p.Releases(nil)
	require.NoError(t, err)
	require.Equal(t, "No releases found.\n", out)
}

// TestPrinter_Report mentions the previous release and pruning.
func TestPrinter_Report(t *testing.T) {
	t.Parallel()

	out := New(true).Report(&coordinator.Report{
		Revision:  rev("c"),
		Before:    release.State{Current: rev("b"), HasCurrent: true},
		Processes: "deploy 1 app",
		Pruned:    []string{rev("1").String()},
	}, 1500*time.Millisecond)

	require.Contains(t, out, "Deployed "+rev("c").String())
	require.Contains(t, out, rev("b").String())
	require.Contains(t, out, "Pruned 1")
	require.NotContains(t, out, "No running process")
}

// TestPrinter_Pruned distinguishes dry runs.
func TestPrinter_Pruned(t *testing.T) {
	t.Parallel()

	p := New(true)
	require.Equal(t, "Nothing to prune.\n", p.Pruned(nil, false))
	require.Contains(t, p.Pruned([]string{"x"}, true), "Would remove x")
	require.Contains(t, p.Pruned([]string{"x"}, false), "Removed x")
	require.Contains(t, p.State(release.State{Current: rev("b"), Prev: rev("c")}), "current -> "+rev("b").String())
}
