package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/symdeploy/internal/config"
	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/localexec"
	"github.com/oshokin/symdeploy/internal/logger"
	"github.com/oshokin/symdeploy/internal/remote"
	"github.com/oshokin/symdeploy/internal/service/coordinator"
	"github.com/oshokin/symdeploy/internal/service/lease"
	"github.com/oshokin/symdeploy/internal/service/packager"
	"github.com/oshokin/symdeploy/internal/vcs"
)

// ExecutableName is the process name checked for concurrent local runs.
const ExecutableName = "symdeploy"

var (
	// ErrConfigMissing is returned when the application config file is not on disk.
	ErrConfigMissing = errors.New("config file doesn't exist locally")
	// ErrDirtyTree is returned when the working tree has uncommitted changes.
	ErrDirtyTree = errors.New("working tree has uncommitted changes")
	// ErrRemotePathMissing is returned when a required remote path is absent.
	ErrRemotePathMissing = errors.New("required remote path is missing")
)

// Dialer opens a connection to the host described by the settings.
type Dialer func(ctx context.Context, cfg *config.Config) (remote.Remote, error)

// DialSSH is the Dialer used outside tests.
func DialSSH(ctx context.Context, cfg *config.Config) (remote.Remote, error) {
	client, err := remote.Dial(ctx, remote.OptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}

	return client, nil
}

// Deployer holds the collaborators of one invocation.
type Deployer struct {
	cfg       *config.Config
	root      string
	repo      vcs.Repository
	runner    localexec.Runner
	dial      Dialer
	actor     *release.Actor
	leaseOpts []lease.Option
	processes func(string) ([]int, error)
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithRepository sets the source repository; it is opened from root by default.
func WithRepository(repo vcs.Repository) Option {
	return func(d *Deployer) {
		d.repo = repo
	}
}

// WithRunner replaces the shell script runner.
func WithRunner(r localexec.Runner) Option {
	return func(d *Deployer) {
		d.runner = r
	}
}

// WithDialer replaces DialSSH.
func WithDialer(dial Dialer) Option {
	return func(d *Deployer) {
		d.dial = dial
	}
}

// WithActor sets the actor written into the lease.
func WithActor(a *release.Actor) Option {
	return func(d *Deployer) {
		d.actor = a.Clone()
	}
}

// WithLeaseOptions adds options to the lease manager.
func WithLeaseOptions(opts ...lease.Option) Option {
	return func(d *Deployer) {
		d.leaseOpts = append(d.leaseOpts, opts...)
	}
}

// WithProcessLister replaces the local process check.
func WithProcessLister(list func(executable string) ([]int, error)) Option {
	return func(d *Deployer) {
		d.processes = list
	}
}

// New returns a deployer working from the invocation root.
func New(cfg *config.Config, root string, opts ...Option) *Deployer {
	if root == "" {
		root = "."
	}

	d := &Deployer{
		cfg:       cfg,
		root:      root,
		runner:    localexec.Shell{},
		dial:      DialSSH,
		processes: localexec.OtherInstances,
		leaseOpts: []lease.Option{
			lease.WithStaleAfter(cfg.LeaseStaleAfter),
			lease.WithWait(cfg.LeaseWait),
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Deploy ships the checked-out revision and activates it.
func (d *Deployer) Deploy(ctx context.Context) (*coordinator.Report, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "deployer")

	// Local checks come first so a dirty tree never opens a connection.
	rev, err := d.preflight(ctx)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "revision", rev.Short())

	// Build and test locally.
	for _, script := range []string{d.cfg.BuildScript, d.cfg.TestScript} {
		if err = d.runner.Run(ctx, d.root, script); err != nil {
			return nil, err
		}
	}

	// Connect and make sure the deploy root is prepared.
	r, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	defer closeRemote(ctx, r)

	if err = d.checkRemotePaths(ctx, r, true); err != nil {
		return nil, err
	}

	// Package the release.
	archive, err := packager.Build(ctx, &packager.Options{
		Revision:      rev,
		Root:          d.root,
		ConfigFile:    d.cfg.AppConfig,
		Binary:        d.cfg.Binary,
		ArchiveBinary: d.cfg.ArchiveBinary,
		AssetDirs:     d.cfg.AssetDirs,
	})
	if err != nil {
		return nil, fmt.Errorf("package: %w", err)
	}

	// The coordinator removes the file after upload; this covers earlier failures.
	defer removeLocal(ctx, archive.Path)

	// Activate under the lease.
	var report *coordinator.Report

	err = d.withLease(ctx, r, rev, func(ctx context.Context) error {
		var activateErr error

		report, activateErr = coordinator.New(r, coordinator.OptionsFromConfig(d.cfg)).
			Activate(ctx, rev, archive.Path)

		return activateErr
	})

	return report, err
}

// preflight runs the local checks and returns the revision to deploy.
func (d *Deployer) preflight(ctx context.Context) (release.Revision, error) {
	appConfig := filepath.Join(d.root, d.cfg.AppConfig)
	if _, err := os.Stat(appConfig); err != nil {
		return "", fmt.Errorf("%w: config file %s doesn't exist locally", ErrConfigMissing, appConfig)
	}

	d.warnOtherInstances(ctx)

	repo := d.repo
	if repo == nil {
		opened, err := vcs.Open(d.root)
		if err != nil {
			return "", err
		}

		repo = opened
	}

	clean, status, err := repo.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("working tree status: %w", err)
	}

	if !clean {
		return "", fmt.Errorf("%w:\n%s", ErrDirtyTree, status)
	}

	rev, err := repo.Head(ctx)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Preflight passed", "revision", rev.String())

	return rev, nil
}

func (d *Deployer) warnOtherInstances(ctx context.Context) {
	if d.processes == nil {
		return
	}

	pids, err := d.processes(ExecutableName)
	if err != nil {
		logger.DebugKV(ctx, "Could not list local processes", "error", err)
		return
	}

	if len(pids) > 0 {
		logger.WarnKV(ctx, "Another symdeploy process is running on this machine", "pids", pids)
	}
}

// checkRemotePaths verifies the deploy root and, with dataFiles set, the
// required data files.
func (d *Deployer) checkRemotePaths(ctx context.Context, r remote.Remote, dataFiles bool) error {
	required := []string{d.cfg.AppDir}
	if dataFiles {
		required = append(required, d.cfg.DataFiles...)
	}

	for _, p := range required {
		exists, err := r.Exists(ctx, p)
		if err != nil {
			return err
		}

		if !exists {
			return fmt.Errorf("%w: %s", ErrRemotePathMissing, p)
		}
	}

	return nil
}

func (d *Deployer) connect(ctx context.Context) (remote.Remote, error) {
	logger.InfoKV(ctx, "Connecting", "address", d.cfg.Address(), "user", d.cfg.User)

	r, err := d.dial(ctx, d.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", d.cfg.Address(), err)
	}

	return r, nil
}

// withLease runs fn while holding the deploy root lease.
func (d *Deployer) withLease(
	ctx context.Context,
	r remote.Remote,
	rev release.Revision,
	fn func(context.Context) error,
) error {
	actor := d.actor
	if actor == nil {
		detected, err := lease.DetectActor()
		if err != nil {
			logger.WarnKV(ctx, "Could not detect local user", "error", err)
		}

		actor = detected
	}

	manager := lease.NewManager(r, release.NewLayout(d.cfg.AppDir), d.leaseOpts...)

	held, err := manager.Acquire(ctx, rev, actor)
	if err != nil {
		return err
	}

	fnErr := fn(ctx)

	// The deploy context may be cancelled already; the lease still has to go.
	releaseCtx := context.WithoutCancel(ctx)
	if err = manager.Release(releaseCtx, held); err != nil {
		logger.WarnKV(ctx, "Could not release lease", "error", err)
	}

	return fnErr
}

func closeRemote(ctx context.Context, r remote.Remote) {
	if err := r.Close(); err != nil {
		logger.DebugKV(ctx, "Close connection", "error", err)
	}
}

func removeLocal(ctx context.Context, p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Could not remove local archive", "path", p, "error", err)
	}
}
