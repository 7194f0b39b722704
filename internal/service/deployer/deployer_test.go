package deployer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/symdeploy/internal/config"
	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/remote"
	"github.com/oshokin/symdeploy/internal/remote/remotetest"
	"github.com/oshokin/symdeploy/internal/service/coordinator"
	"github.com/oshokin/symdeploy/internal/service/lease"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testRevision = release.Revision(strings.Repeat("c", release.RevisionLength))

type fakeRepo struct {
	clean  bool
	status string
	head   release.Revision
}

func (f *fakeRepo) Status(context.Context) (bool, string, error) {
	return f.clean, f.status, nil
}

func (f *fakeRepo) Head(context.Context) (release.Revision, error) {
	return f.head, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	scripts []string
	fail    string
}

func (f *fakeRunner) Run(_ context.Context, _, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts = append(f.scripts, script)

	if script == f.fail {
		return errors.New("script failed")
	}

	return nil
}

// fixture bundles a project directory, a fake host and counters.
type fixture struct {
	root   string
	cfg    *config.Config
	repo   *fakeRepo
	runner *fakeRunner
	remote *remotetest.Remote
	dials  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	for name, body := range map[string]string{
		"config.json":       "{}",
		"app_linux":         "ELF",
		"scripts/app.initd": "#!/bin/sh",
		"tmpl/index.html":   "<html>",
		"static/app.css":    "body{}",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	cfg := &config.Config{
		Host:      "app.example.org",
		User:      "deploy",
		Service:   "app",
		Binary:    "app_linux",
		DataFiles: []string{"www/data/db.sqlite"},
	}
	require.NoError(t, config.Validate(cfg))

	r := remotetest.New()
	r.MkdirAll(cfg.AppDir)
	r.WriteFile("www/data/db.sqlite", []byte("db"))

	return &fixture{
		root:   root,
		cfg:    cfg,
		repo:   &fakeRepo{clean: true, head: testRevision},
		runner: &fakeRunner{},
		remote: r,
	}
}

func (f *fixture) deployer(opts ...Option) *Deployer {
	base := []Option{
		WithRepository(f.repo),
		WithRunner(f.runner),
		WithActor(&release.Actor{Hostname: "laptop", Username: "alice"}),
		WithProcessLister(func(string) ([]int, error) { return nil, nil }),
		WithDialer(func(context.Context, *config.Config) (remote.Remote, error) {
			f.dials++
			return f.remote, nil
		}),
	}

	return New(f.cfg, f.root, append(base, opts...)...)
}

func (f *fixture) archivePath() string {
	return filepath.Join(f.root, testRevision.ArchiveName())
}

// TestDeploy_FirstRelease runs every stage against an empty host.
func TestDeploy_FirstRelease(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	report, err := f.deployer().Deploy(context.Background())
	require.NoError(t, err)
	require.Equal(t, coordinator.StepPrune, report.LastStep)

	require.Equal(t, []string{config.DefaultBuildScript, config.DefaultTestScript}, f.runner.scripts)
	require.Equal(t, 1, f.dials)
	require.True(t, f.remote.Closed())

	require.Equal(t, testRevision.String(), f.remote.LinkTarget("www/app/current"))
	require.True(t, f.remote.Has("www/app/"+testRevision.String()+"/app_linux"))
	require.True(t, f.remote.Has("www/app/"+testRevision.String()+"/static/app.css"))
	require.False(t, f.remote.Has("www/app/.symdeploy.lock"))
	require.NoFileExists(t, f.archivePath())

	mutations := f.remote.Mutations()
	require.True(t, strings.HasPrefix(mutations[0], "create www/app/.symdeploy.lock"), mutations[0])
	require.Equal(t, "remove www/app/.symdeploy.lock", mutations[len(mutations)-1])
}

// TestDeploy_DirtyTreeNeverDials aborts before the build and before connecting.
func TestDeploy_DirtyTreeNeverDials(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.repo.clean = false
	f.repo.status = " M main.go\n?? notes.txt"

	_, err := f.deployer().Deploy(context.Background())
	require.ErrorIs(t, err, ErrDirtyTree)
	require.Contains(t, err.Error(), "M main.go")
	require.Zero(t, f.dials)
	require.Empty(t, f.runner.scripts)
	require.Empty(t, f.remote.Calls())
}

// TestDeploy_ConfigMissing names the missing application config.
func TestDeploy_ConfigMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, "config.json")))

	_, err := f.deployer().Deploy(context.Background())
	require.ErrorIs(t, err, ErrConfigMissing)
	require.Contains(t, err.Error(), "doesn't exist locally")
	require.Zero(t, f.dials)
}

// TestDeploy_ScriptFailure stops at the failing gate.
func TestDeploy_ScriptFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.fail = config.DefaultBuildScript

	_, err := f.deployer().Deploy(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{config.DefaultBuildScript}, f.runner.scripts)
	require.Zero(t, f.dials)
}

// TestDeploy_RemotePathMissing checks the deploy root and data files before packaging.
func TestDeploy_RemotePathMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.DataFiles = append(f.cfg.DataFiles, "www/data/missing.bin")

	_, err := f.deployer().Deploy(context.Background())
	require.ErrorIs(t, err, ErrRemotePathMissing)
	require.Contains(t, err.Error(), "www/data/missing.bin")
	require.Empty(t, f.remote.Mutations())
	require.NoFileExists(t, f.archivePath())
	require.True(t, f.remote.Closed())
}

// TestDeploy_LeaseHeld leaves the host untouched while another deploy runs.
func TestDeploy_LeaseHeld(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	data, err := yaml.Marshal(&lease.Lease{
		Owner:      "other-run",
		Actor:      release.Actor{Hostname: "ci", Username: "bob"},
		AcquiredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	f.remote.WriteFile("www/app/.symdeploy.lock", data)

	_, err = f.deployer(WithLeaseOptions(lease.WithWait(0))).Deploy(context.Background())
	require.ErrorIs(t, err, lease.ErrLeaseHeld)
	require.Contains(t, err.Error(), "bob@ci")

	for _, call := range f.remote.Calls() {
		require.False(t, strings.HasPrefix(call, "upload "), call)
	}

	require.True(t, f.remote.Has("www/app/.symdeploy.lock"))
	require.NoFileExists(t, f.archivePath())
}

// TestDeploy_PartialActivationReleasesLease reports the failing step and lets go of the lease.
func TestDeploy_PartialActivationReleasesLease(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.remote.FailOn("symlink", "current", errors.New("disk full"))

	report, err := f.deployer().Deploy(context.Background())
	require.ErrorIs(t, err, coordinator.ErrPartialActivation)
	require.Equal(t, coordinator.StepDetach, report.LastStep)
	require.False(t, f.remote.Has("www/app/.symdeploy.lock"))
}

// TestDeploy_WarnsAboutOtherInstances consults the process list without failing.
func TestDeploy_WarnsAboutOtherInstances(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var asked []string

	_, err := f.deployer(WithProcessLister(func(name string) ([]int, error) {
		asked = append(asked, name)
		return []int{4242}, nil
	})).Deploy(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{ExecutableName}, asked)
}

// TestMaintenance covers releases, dry-run prune, prune and rollback through one host.
func TestMaintenance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	revs := make([]release.Revision, 0, 7)

	for i, c := range "1234567" {
		rev := release.Revision(strings.Repeat(string(c), release.RevisionLength))
		dir := "www/app/" + rev.String()
		f.remote.MkdirAll(dir)
		f.remote.SetModTime(dir, time.Date(2023, 1, 1, i, 0, 0, 0, time.UTC))

		revs = append(revs, rev)
	}

	f.remote.WriteFile(f.cfg.InitScript(), nil)
	f.remote.Link(revs[6].String(), "www/app/current")
	f.remote.Link(revs[5].String(), "www/app/prev")

	d := f.deployer()

	releases, err := d.Releases(ctx)
	require.NoError(t, err)
	require.Len(t, releases, 7)
	require.True(t, releases[6].Current)
	require.Empty(t, f.remote.Mutations())

	expired, err := d.Prune(ctx, 0, true)
	require.NoError(t, err)
	require.Equal(t, []string{revs[0].String(), revs[1].String()}, expired)
	require.Empty(t, f.remote.Mutations())

	removed, err := d.Prune(ctx, 6, false)
	require.NoError(t, err)
	require.Equal(t, []string{revs[0].String()}, removed)
	require.False(t, f.remote.Has("www/app/.symdeploy.lock"))

	state, err := d.Rollback(ctx)
	require.NoError(t, err)
	require.Equal(t, revs[5], state.Current)
	require.Equal(t, revs[5].String(), f.remote.LinkTarget("www/app/current"))
	require.Equal(t, revs[6].String(), f.remote.LinkTarget("www/app/prev"))
}

// TestLoad reads the settings file from the invocation root by default.
func TestLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := &config.Config{Host: "h", User: "u", Service: "app", Binary: "bin/app"}
	require.NoError(t, config.Save(filepath.Join(root, config.DefaultConfigFilename), cfg))

	d, err := Load(&Options{Root: root})
	require.NoError(t, err)
	require.Equal(t, "app", d.cfg.Service)
	require.Equal(t, root, d.root)

	_, err = Load(&Options{Root: t.TempDir()})
	require.Error(t, err)
}
