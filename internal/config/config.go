package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/symdeploy/internal/domain/release"
)

// Config holds the deploy settings: where the host is, how to reach it,
// and the path conventions used locally and on the remote side.
type Config struct {
	// Host is the remote host name or address.
	Host string `yaml:"host"`
	// Port is the SSH port.
	Port int `yaml:"port,omitempty"`
	// User is the remote account owning the deploy root.
	User string `yaml:"user"`
	// IdentityFile is a private key used for authentication.
	IdentityFile string `yaml:"identity_file,omitempty"`
	// UseAgent enables keys from the ssh-agent at SSH_AUTH_SOCK.
	UseAgent bool `yaml:"use_agent,omitempty"`
	// KnownHostsFile verifies the host key.
	KnownHostsFile string `yaml:"known_hosts_file,omitempty"`
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key,omitempty"`

	// AppDir is the remote deploy root, relative to the user's home or absolute.
	AppDir string `yaml:"app_dir"`
	// DataFiles are remote files that must exist before deploying.
	DataFiles []string `yaml:"data_files,omitempty"`
	// Service is the init script name used to stop and start the application.
	Service string `yaml:"service"`
	// InitDir is where init scripts are installed on the remote host.
	InitDir string `yaml:"init_dir,omitempty"`
	// ProcessPattern is matched against `ps aux` output after start.
	ProcessPattern string `yaml:"process_pattern,omitempty"`

	// AppConfig is the local application config file shipped in the archive.
	AppConfig string `yaml:"app_config"`
	// Binary is the locally built executable.
	Binary string `yaml:"binary"`
	// ArchiveBinary is the executable name inside the archive.
	ArchiveBinary string `yaml:"archive_binary,omitempty"`
	// AssetDirs are local directories packed recursively.
	AssetDirs []string `yaml:"asset_dirs,omitempty"`
	// BuildScript is run before packaging.
	BuildScript string `yaml:"build_script,omitempty"`
	// TestScript is run after the build.
	TestScript string `yaml:"test_script,omitempty"`

	// Retention is how many revision directories are kept.
	Retention int `yaml:"retention,omitempty"`
	// LeaseStaleAfter is the age after which a held lease is broken.
	LeaseStaleAfter time.Duration `yaml:"lease_stale_after,omitempty"`
	// LeaseWait is how long to wait for a held lease before giving up.
	LeaseWait time.Duration `yaml:"lease_wait,omitempty"`
	// Timeout bounds connecting and every remote command; zero means no limit.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

const (
	// DefaultConfigFilename is the default settings file name.
	DefaultConfigFilename = "symdeploy.yaml"

	// DefaultPort is the standard SSH port.
	DefaultPort = 22

	// DefaultAppDir is the deploy root relative to the remote home directory.
	DefaultAppDir = "www/app"

	// DefaultInitDir is where SysV init scripts live.
	DefaultInitDir = "/etc/init.d"

	// DefaultAppConfig is the application config file shipped with each revision.
	DefaultAppConfig = "config.json"

	// DefaultBuildScript builds the binary.
	DefaultBuildScript = "./scripts/build.sh"

	// DefaultTestScript runs the test suite.
	DefaultTestScript = "./scripts/tests.sh"

	// DefaultLeaseStaleAfter is the age after which a lease is considered abandoned.
	DefaultLeaseStaleAfter = 30 * time.Minute

	// DefaultLeaseWait is how long a deploy waits for another one to finish.
	DefaultLeaseWait = time.Minute

	// DefaultFilePermissions is the file mode used when writing settings.
	DefaultFilePermissions = 0o600

	maxPort = 65535
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errHostRequired is returned when the remote host is missing.
	errHostRequired = errors.New("host must be provided")
	// errUserRequired is returned when the remote user is missing.
	errUserRequired = errors.New("user must be provided")
	// errServiceRequired is returned when the service name is missing.
	errServiceRequired = errors.New("service must be provided")
	// errBinaryRequired is returned when the local binary is missing.
	errBinaryRequired = errors.New("binary must be provided")
	// errInvalidPort is returned for ports outside 1..65535.
	errInvalidPort = errors.New("invalid port")
	// errInvalidRetention is returned for a negative retention.
	errInvalidRetention = errors.New("retention must be at least 1")
	// errUnsafeAppDir is returned for deploy roots that would make rm -rf dangerous.
	errUnsafeAppDir = errors.New("app_dir must not be empty, '.', '/' or '~'")
)

// Load reads settings from the provided path and validates them.
func Load(p string) (*Config, error) {
	if p == "" {
		p = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(p))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(p string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if p == "" {
		p = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// The file may name a private key, keep it private.
	if err := os.WriteFile(filepath.Clean(p), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills in defaults for the rest.
//
//nolint:cyclop // A flat list of defaults reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.Host) == "" {
		return errHostRequired
	}

	if strings.TrimSpace(cfg.User) == "" {
		return errUserRequired
	}

	if strings.TrimSpace(cfg.Service) == "" {
		return errServiceRequired
	}

	if strings.TrimSpace(cfg.Binary) == "" {
		return errBinaryRequired
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	if cfg.Port < 1 || cfg.Port > maxPort {
		return fmt.Errorf("%w: %d", errInvalidPort, cfg.Port)
	}

	if cfg.AppDir == "" {
		cfg.AppDir = DefaultAppDir
	}

	switch path.Clean(cfg.AppDir) {
	case ".", "/", "~":
		return errUnsafeAppDir
	}

	if cfg.InitDir == "" {
		cfg.InitDir = DefaultInitDir
	}

	if cfg.ProcessPattern == "" {
		cfg.ProcessPattern = cfg.Service
	}

	if cfg.AppConfig == "" {
		cfg.AppConfig = DefaultAppConfig
	}

	if cfg.ArchiveBinary == "" {
		cfg.ArchiveBinary = filepath.Base(cfg.Binary)
	}

	if cfg.BuildScript == "" {
		cfg.BuildScript = DefaultBuildScript
	}

	if cfg.TestScript == "" {
		cfg.TestScript = DefaultTestScript
	}

	if cfg.AssetDirs == nil {
		cfg.AssetDirs = []string{"scripts", "tmpl", "static"}
	}

	if cfg.Retention == 0 {
		cfg.Retention = release.DefaultRetention
	}

	if cfg.Retention < 1 {
		return fmt.Errorf("%w: %d", errInvalidRetention, cfg.Retention)
	}

	if cfg.LeaseStaleAfter <= 0 {
		cfg.LeaseStaleAfter = DefaultLeaseStaleAfter
	}

	if cfg.LeaseWait <= 0 {
		cfg.LeaseWait = DefaultLeaseWait
	}

	return nil
}

// Address returns the host:port pair used to dial the remote host.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// InitScript returns the remote path of the service init script.
func (c *Config) InitScript() string {
	return path.Join(c.InitDir, c.Service)
}

// BundledInitScript returns the init script path inside a revision directory.
func (c *Config) BundledInitScript() string {
	return path.Join("scripts", c.Service+".initd")
}
