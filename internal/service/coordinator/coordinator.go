package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/oshokin/symdeploy/internal/config"
	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
	"github.com/oshokin/symdeploy/internal/remote"
)

// Options describe the deploy root and the service it runs.
type Options struct {
	// Layout is the remote deploy root.
	Layout release.Layout
	// Service is the init script name.
	Service string
	// InitScript is the absolute path of the installed init script.
	InitScript string
	// BundledInitScript is the init script path inside a revision directory.
	BundledInitScript string
	// ProcessPattern is matched against `ps aux` output after start.
	ProcessPattern string
	// Retention is how many revision directories survive pruning.
	Retention int
}

// OptionsFromConfig maps deploy settings to coordinator options.
func OptionsFromConfig(cfg *config.Config) *Options {
	return &Options{
		Layout:            release.NewLayout(cfg.AppDir),
		Service:           cfg.Service,
		InitScript:        cfg.InitScript(),
		BundledInitScript: cfg.BundledInitScript(),
		ProcessPattern:    cfg.ProcessPattern,
		Retention:         cfg.Retention,
	}
}

// Coordinator runs release transitions against one remote host.
type Coordinator struct {
	remote remote.Remote
	opts   Options
}

// New returns a coordinator that issues its commands through r.
func New(r remote.Remote, opts *Options) *Coordinator {
	c := &Coordinator{remote: r, opts: *opts}

	if c.opts.ProcessPattern == "" {
		c.opts.ProcessPattern = c.opts.Service
	}

	if c.opts.Retention <= 0 {
		c.opts.Retention = release.DefaultRetention
	}

	return c
}

// Inspect reads the current and prev symlinks.
func (c *Coordinator) Inspect(ctx context.Context) (release.State, error) {
	var state release.State

	current, ok, err := c.readRevisionLink(ctx, c.opts.Layout.Current())
	if err != nil {
		return state, err
	}

	state.Current, state.HasCurrent = current, ok

	prev, ok, err := c.readRevisionLink(ctx, c.opts.Layout.Prev())
	if err != nil {
		return state, err
	}

	state.Prev, state.HasPrev = prev, ok

	return state, nil
}

// readRevisionLink returns the revision a symlink points at. A link whose
// target is not a revision name still reports ok with an empty revision.
func (c *Coordinator) readRevisionLink(ctx context.Context, link string) (release.Revision, bool, error) {
	target, err := c.remote.ReadLink(ctx, link)
	if errors.Is(err, remote.ErrNotExist) {
		return "", false, nil
	}

	if err != nil {
		return "", false, err
	}

	// Servers may report the target as an absolute path.
	rev, err := release.ParseRevision(path.Base(target))
	if err != nil {
		logger.WarnKV(ctx, "Symlink does not point at a revision", "link", link, "target", target)
		return "", true, nil
	}

	return rev, true, nil
}

// Activate moves the host to revision rev, uploading the archive at localArchive.
// Failures before the symlinks are touched leave the host as it was; later
// failures wrap ErrPartialActivation. The returned report is never nil.
func (c *Coordinator) Activate(ctx context.Context, rev release.Revision, localArchive string) (*Report, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "coordinator"), "revision", rev.Short())
	report := &Report{Revision: rev}

	// Remember where current and prev pointed before anything changes.
	state, err := c.Inspect(ctx)
	if err != nil {
		return report, fmt.Errorf("inspect deploy root: %w", err)
	}

	report.Before = state

	logger.InfoKV(ctx, "Activating release", "phase", state.Phase(), "current", state.Current.Short())

	// Steps from detach to start touch live links and the service.
	steps := []struct {
		step Step
		run  func(context.Context) error
	}{
		{StepGuard, func(ctx context.Context) error { return c.guard(ctx, rev) }},
		{StepUnpack, func(ctx context.Context) error { return c.unpack(ctx, rev, localArchive) }},
		{StepDetach, func(ctx context.Context) error { return c.detach(ctx, state) }},
		{StepLink, func(ctx context.Context) error { return c.link(ctx, rev) }},
		{StepInstall, func(ctx context.Context) error { return c.install(ctx, report) }},
		{StepStart, func(ctx context.Context) error { return c.service(ctx, "start") }},
		{StepProbe, func(ctx context.Context) error { c.probe(ctx, report); return nil }},
	}

	for _, s := range steps {
		if err = s.run(ctx); err != nil {
			if s.step.Mutating() {
				return report, fmt.Errorf(
					"%w: %s failed after %s, check the host or run `symdeploy rollback`: %w",
					ErrPartialActivation, s.step, report.LastStep, err)
			}

			return report, fmt.Errorf("%s: %w", s.step, err)
		}

		report.complete(s.step)
		logger.DebugKV(ctx, "Step completed", "step", s.step)
	}

	// The release is live, drop old revisions.
	pruned, err := c.Prune(ctx, c.opts.Retention, false)
	report.Pruned = pruned

	if err != nil {
		return report, fmt.Errorf("release is live but pruning failed: %w", err)
	}

	report.complete(StepPrune)
	logger.InfoKV(ctx, "Release active", "pruned", len(pruned))

	return report, nil
}

func (c *Coordinator) guard(ctx context.Context, rev release.Revision) error {
	dir := c.opts.Layout.Dir(rev)

	exists, err := c.remote.Exists(ctx, dir)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("%w: %s", ErrRevisionExists, dir)
	}

	return nil
}

func (c *Coordinator) unpack(ctx context.Context, rev release.Revision, localArchive string) error {
	archive := c.opts.Layout.Archive(rev)
	dir := c.opts.Layout.Dir(rev)

	logger.InfoKV(ctx, "Uploading archive", "from", localArchive, "to", archive)

	if err := c.remote.Upload(ctx, localArchive, archive); err != nil {
		return err
	}

	if err := os.Remove(localArchive); err != nil {
		logger.WarnKV(ctx, "Could not remove local archive", "path", localArchive, "error", err)
	}

	_, err := c.remote.Run(ctx, "unzip -q "+remote.Quote(archive)+" -d "+remote.Quote(dir))
	if err != nil {
		// Leave nothing behind that would trip the guard on the next attempt.
		if cleanupErr := c.remote.RemoveAll(ctx, dir); cleanupErr != nil {
			logger.WarnKV(ctx, "Could not remove partial revision directory", "path", dir, "error", cleanupErr)
		}

		c.removeArchive(ctx, archive)

		return err
	}

	c.removeArchive(ctx, archive)

	return nil
}

func (c *Coordinator) removeArchive(ctx context.Context, archive string) {
	if err := c.remote.Remove(ctx, archive); err != nil {
		logger.WarnKV(ctx, "Could not remove remote archive", "path", archive, "error", err)
	}
}

// detach stops the service and turns current into prev. Nothing happens in the Empty phase.
func (c *Coordinator) detach(ctx context.Context, state release.State) error {
	if state.Phase() == release.Empty {
		return nil
	}

	// Stop is best-effort: an already stopped service often exits non-zero.
	if err := c.service(ctx, "stop"); err != nil {
		logger.WarnKV(ctx, "Service stop failed", "service", c.opts.Service, "error", err)
	}

	if err := c.remote.Remove(ctx, c.opts.Layout.Prev()); err != nil {
		return err
	}

	return c.remote.Rename(ctx, c.opts.Layout.Current(), c.opts.Layout.Prev())
}

// link points current at the revision directory through a relative target.
func (c *Coordinator) link(ctx context.Context, rev release.Revision) error {
	return c.remote.Symlink(ctx, rev.String(), c.opts.Layout.Current())
}

// install links the bundled init script and registers it on the first deploy to a host.
func (c *Coordinator) install(ctx context.Context, report *Report) error {
	exists, err := c.remote.Exists(ctx, c.opts.InitScript)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	root, err := c.remote.RealPath(ctx, c.opts.Layout.Root)
	if err != nil {
		return err
	}

	bundled := path.Join(root, release.CurrentLink, c.opts.BundledInitScript)

	logger.InfoKV(ctx, "Installing init script", "path", c.opts.InitScript, "target", bundled)

	if _, err = c.remote.Sudo(ctx, "ln -s "+remote.Quote(bundled)+" "+remote.Quote(c.opts.InitScript)); err != nil {
		return err
	}

	if _, err = c.remote.Sudo(ctx, "update-rc.d "+remote.Quote(c.opts.Service)+" defaults"); err != nil {
		return err
	}

	report.InstalledInitScript = true

	return nil
}

func (c *Coordinator) service(ctx context.Context, action string) error {
	logger.InfoKV(ctx, "Service "+action, "service", c.opts.Service)

	_, err := c.remote.Sudo(ctx, remote.Quote(c.opts.InitScript)+" "+action)

	return err
}

// probe lists matching processes; the result is only logged.
func (c *Coordinator) probe(ctx context.Context, report *Report) {
	cmd := "ps aux | grep " + remote.Quote(c.opts.ProcessPattern) + " | grep -v grep"

	out, err := c.remote.Run(ctx, cmd)

	report.Processes = strings.TrimSpace(out)

	switch {
	case err != nil:
		logger.WarnKV(ctx, "No running process matched", "pattern", c.opts.ProcessPattern, "error", err)
	default:
		for line := range strings.SplitSeq(report.Processes, "\n") {
			logger.InfoKV(ctx, "Process", "ps", line)
		}
	}
}
