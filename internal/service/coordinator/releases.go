package coordinator

import (
	"context"

	"github.com/oshokin/symdeploy/internal/domain/release"
)

// Releases lists the revision directories of the deploy root, oldest first.
func (c *Coordinator) Releases(ctx context.Context) ([]release.Release, error) {
	state, err := c.Inspect(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := c.remote.ReadDir(ctx, c.opts.Layout.Root)
	if err != nil {
		return nil, err
	}

	revisions := release.Revisions(entries)
	result := make([]release.Release, 0, len(revisions))

	for _, e := range revisions {
		rev := release.Revision(e.Name)

		result = append(result, release.Release{
			Revision: rev,
			ModTime:  e.ModTime,
			Current:  rev == state.Current,
			Prev:     rev == state.Prev,
		})
	}

	return result, nil
}
