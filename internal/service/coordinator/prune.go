package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
)

// Prune deletes the oldest revision directories so that at most keep remain.
// Targets of current and prev are never deleted. Each deletion is attempted
// even if an earlier one failed; the failures are joined. With dryRun set,
// the expired names are returned and nothing is deleted.
func (c *Coordinator) Prune(ctx context.Context, keep int, dryRun bool) ([]string, error) {
	ctx = logger.WithName(ctx, "pruner")

	state, err := c.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect deploy root: %w", err)
	}

	entries, err := c.remote.ReadDir(ctx, c.opts.Layout.Root)
	if err != nil {
		return nil, err
	}

	expired := release.Expired(entries, keep, state.Protected())
	if len(expired) == 0 {
		logger.DebugKV(ctx, "Nothing to prune", "keep", keep)
		return nil, nil
	}

	if dryRun {
		for _, name := range expired {
			logger.InfoKV(ctx, "Would remove revision", "revision", name)
		}

		return expired, nil
	}

	var (
		removed []string
		errs    []error
	)

	for _, name := range expired {
		dir := c.opts.Layout.Entry(name)

		if err = c.remote.RemoveAll(ctx, dir); err != nil {
			logger.WarnKV(ctx, "Could not remove revision", "path", dir, "error", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))

			continue
		}

		logger.InfoKV(ctx, "Removed revision", "path", dir)
		removed = append(removed, name)
	}

	return removed, errors.Join(errs...)
}
