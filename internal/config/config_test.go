package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func minimal() *Config {
	return &Config{
		Host:    "apps.example.org",
		User:    "deploy",
		Service: "translator",
		Binary:  "translator_linux",
	}
}

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
	require.ErrorIs(t, Validate(new(Config)), errHostRequired)

	cfg := minimal()
	cfg.User = " "
	require.ErrorIs(t, Validate(cfg), errUserRequired)

	cfg = minimal()
	cfg.Service = ""
	require.ErrorIs(t, Validate(cfg), errServiceRequired)

	cfg = minimal()
	cfg.Binary = ""
	require.ErrorIs(t, Validate(cfg), errBinaryRequired)

	cfg = minimal()
	cfg.Port = 70000
	require.ErrorIs(t, Validate(cfg), errInvalidPort)

	cfg = minimal()
	cfg.Retention = -1
	require.ErrorIs(t, Validate(cfg), errInvalidRetention)

	for _, dir := range []string{"/", ".", "~", "./"} {
		cfg = minimal()
		cfg.AppDir = dir
		require.ErrorIs(t, Validate(cfg), errUnsafeAppDir, dir)
	}
}

// TestValidate_Defaults verifies the path conventions filled in for a minimal file.
func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := minimal()
	require.NoError(t, Validate(cfg))

	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, "apps.example.org:22", cfg.Address())
	require.Equal(t, DefaultAppDir, cfg.AppDir)
	require.Equal(t, "/etc/init.d/translator", cfg.InitScript())
	require.Equal(t, "scripts/translator.initd", cfg.BundledInitScript())
	require.Equal(t, "translator", cfg.ProcessPattern)
	require.Equal(t, DefaultAppConfig, cfg.AppConfig)
	require.Equal(t, "translator_linux", cfg.ArchiveBinary)
	require.Equal(t, []string{"scripts", "tmpl", "static"}, cfg.AssetDirs)
	require.Equal(t, DefaultBuildScript, cfg.BuildScript)
	require.Equal(t, DefaultTestScript, cfg.TestScript)
	require.Equal(t, 5, cfg.Retention)
	require.Equal(t, DefaultLeaseStaleAfter, cfg.LeaseStaleAfter)
	require.Equal(t, DefaultLeaseWait, cfg.LeaseWait)
	require.Zero(t, cfg.Timeout)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "symdeploy.yaml")

	cfg := minimal()
	cfg.ArchiveBinary = "translator"
	cfg.DataFiles = []string{"www/data/translations.dat"}
	cfg.Timeout = 2 * time.Minute

	require.NoError(t, Save(p, cfg))

	loaded, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	info, err := os.Stat(p)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoad_ParsesDurations reads a hand-written file with duration strings.
func TestLoad_ParsesDurations(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "symdeploy.yaml")
	contents := `host: apps.example.org
user: deploy
service: translator
binary: translator_linux
app_dir: /srv/translator
retention: 3
lease_wait: 10s
timeout: 1m
`
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "/srv/translator", cfg.AppDir)
	require.Equal(t, 3, cfg.Retention)
	require.Equal(t, 10*time.Second, cfg.LeaseWait)
	require.Equal(t, time.Minute, cfg.Timeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
