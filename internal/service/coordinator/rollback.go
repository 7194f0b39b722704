package coordinator

import (
	"context"
	"fmt"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
)

// Staging names for the symlinks built during a rollback. They are renamed
// over current and prev, which replaces each link in one step.
const (
	nextCurrentLink = ".current.next"
	nextPrevLink    = ".prev.next"
)

// Rollback swaps current and prev and restarts the service.
// It returns the state after the swap.
func (c *Coordinator) Rollback(ctx context.Context) (release.State, error) {
	ctx = logger.WithName(ctx, "rollback")

	state, err := c.Inspect(ctx)
	if err != nil {
		return state, fmt.Errorf("inspect deploy root: %w", err)
	}

	if state.Current == "" || state.Prev == "" {
		return state, fmt.Errorf("%w: current=%q prev=%q", ErrNothingToRollBack, state.Current, state.Prev)
	}

	exists, err := c.remote.Exists(ctx, c.opts.Layout.Dir(state.Prev))
	if err != nil {
		return state, err
	}

	if !exists {
		return state, fmt.Errorf("%w: %s was pruned", ErrNothingToRollBack, c.opts.Layout.Dir(state.Prev))
	}

	logger.InfoKV(ctx, "Rolling back", "from", state.Current.Short(), "to", state.Prev.Short())

	if err = c.service(ctx, "stop"); err != nil {
		logger.WarnKV(ctx, "Service stop failed", "service", c.opts.Service, "error", err)
	}

	if err = c.replaceLink(ctx, state.Prev, nextCurrentLink, c.opts.Layout.Current()); err != nil {
		return state, fmt.Errorf("%w: repoint current: %w", ErrPartialActivation, err)
	}

	if err = c.replaceLink(ctx, state.Current, nextPrevLink, c.opts.Layout.Prev()); err != nil {
		return state, fmt.Errorf("%w: repoint prev: %w", ErrPartialActivation, err)
	}

	if err = c.service(ctx, "start"); err != nil {
		return state, fmt.Errorf("%w: start: %w", ErrPartialActivation, err)
	}

	swapped := release.State{
		Current:    state.Prev,
		Prev:       state.Current,
		HasCurrent: true,
		HasPrev:    true,
	}

	report := &Report{Revision: swapped.Current}
	c.probe(ctx, report)

	return swapped, nil
}

// replaceLink builds a staging symlink to rev and renames it over link.
func (c *Coordinator) replaceLink(ctx context.Context, rev release.Revision, staging, link string) error {
	tmp := c.opts.Layout.Entry(staging)

	if err := c.remote.Remove(ctx, tmp); err != nil {
		return err
	}

	if err := c.remote.Symlink(ctx, rev.String(), tmp); err != nil {
		return err
	}

	return c.remote.Rename(ctx, tmp, link)
}
