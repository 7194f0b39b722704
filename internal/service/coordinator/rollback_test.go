package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/remote/remotetest"
)

// TestRollback_SwapsLinks points current at prev and prev at the old current.
func TestRollback_SwapsLinks(t *testing.T) {
	t.Parallel()

	r, c := newCoordinator()
	activeHost(r, rev("c"), rev("b"))

	state, err := c.Rollback(context.Background())
	require.NoError(t, err)
	require.Equal(t, rev("b"), state.Current)
	require.Equal(t, rev("c"), state.Prev)

	require.Equal(t, rev("b").String(), r.LinkTarget(root+"/current"))
	require.Equal(t, rev("c").String(), r.LinkTarget(root+"/prev"))
	require.False(t, r.Has(root+"/"+nextCurrentLink))
	require.False(t, r.Has(root+"/"+nextPrevLink))
	require.Equal(t, "start", r.Services["app"])

	calls := r.Mutations()
	require.Equal(t, "sudo "+initScript+" stop", calls[0])
	require.Equal(t, "sudo "+initScript+" start", calls[len(calls)-1])

	// A second rollback returns to where we started.
	state, err = c.Rollback(context.Background())
	require.NoError(t, err)
	require.Equal(t, rev("c"), state.Current)
}

// TestRollback_Refuses needs both links and the prev directory.
func TestRollback_Refuses(t *testing.T) {
	t.Parallel()

	cases := map[string]func(r *remotetest.Remote){
		"empty": func(*remotetest.Remote) {},
		"noPrev": func(r *remotetest.Remote) {
			r.MkdirAll(root + "/" + rev("c").String())
			r.Link(rev("c").String(), root+"/current")
		},
		"prunedPrev": func(r *remotetest.Remote) {
			r.MkdirAll(root + "/" + rev("c").String())
			r.Link(rev("c").String(), root+"/current")
			r.Link(rev("b").String(), root+"/prev")
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			r, c := newCoordinator()
			setup(r)

			_, err := c.Rollback(context.Background())
			require.ErrorIs(t, err, ErrNothingToRollBack)
			require.Empty(t, r.Mutations())
		})
	}
}

// TestReleases marks current and prev in an oldest-first listing.
func TestReleases(t *testing.T) {
	t.Parallel()

	r, c := newCoordinator()
	sevenRevisions(r, rev("7"), rev("5"))
	r.MkdirAll(root + "/not-a-revision")

	releases, err := c.Releases(context.Background())
	require.NoError(t, err)
	require.Len(t, releases, 7)
	require.Equal(t, rev("1"), releases[0].Revision)

	marked := make(map[release.Revision]string)

	for _, rel := range releases {
		switch {
		case rel.Current:
			marked[rel.Revision] = "current"
		case rel.Prev:
			marked[rel.Revision] = "prev"
		}
	}

	require.Equal(t, map[release.Revision]string{rev("7"): "current", rev("5"): "prev"}, marked)
}
