package deployer

import (
	"context"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
	"github.com/oshokin/symdeploy/internal/service/coordinator"
)

// Rollback swaps current and prev on the host.
func (d *Deployer) Rollback(ctx context.Context) (release.State, error) {
	ctx = logger.WithName(ctx, "deployer")

	var state release.State

	err := d.remoteSession(ctx, true, func(ctx context.Context, c *coordinator.Coordinator) error {
		var err error

		state, err = c.Rollback(ctx)

		return err
	})

	return state, err
}

// Releases lists the revision directories on the host, oldest first.
func (d *Deployer) Releases(ctx context.Context) ([]release.Release, error) {
	ctx = logger.WithName(ctx, "deployer")

	var releases []release.Release

	err := d.remoteSession(ctx, false, func(ctx context.Context, c *coordinator.Coordinator) error {
		var err error

		releases, err = c.Releases(ctx)

		return err
	})

	return releases, err
}

// Prune removes expired revision directories; keep <= 0 uses the configured retention.
func (d *Deployer) Prune(ctx context.Context, keep int, dryRun bool) ([]string, error) {
	ctx = logger.WithName(ctx, "deployer")

	if keep <= 0 {
		keep = d.cfg.Retention
	}

	var removed []string

	err := d.remoteSession(ctx, !dryRun, func(ctx context.Context, c *coordinator.Coordinator) error {
		var err error

		removed, err = c.Prune(ctx, keep, dryRun)

		return err
	})

	return removed, err
}

// remoteSession connects, optionally takes the lease, and runs fn.
func (d *Deployer) remoteSession(
	ctx context.Context,
	locked bool,
	fn func(context.Context, *coordinator.Coordinator) error,
) error {
	r, err := d.connect(ctx)
	if err != nil {
		return err
	}

	defer closeRemote(ctx, r)

	if err = d.checkRemotePaths(ctx, r, false); err != nil {
		return err
	}

	c := coordinator.New(r, coordinator.OptionsFromConfig(d.cfg))

	if !locked {
		return fn(ctx, c)
	}

	return d.withLease(ctx, r, "", func(ctx context.Context) error {
		return fn(ctx, c)
	})
}
