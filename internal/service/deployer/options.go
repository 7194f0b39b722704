package deployer

import (
	"path/filepath"

	"github.com/oshokin/symdeploy/internal/config"
)

// Options are inputs accepted from the CLI.
type Options struct {
	// ConfigPath is the optional path to the settings file.
	ConfigPath string
	// Root is the invocation root, the current directory by default.
	Root string
}

// Load reads the settings named by opts and returns a deployer for them.
func Load(opts *Options, extra ...Option) (*Deployer, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(opts.Root, config.DefaultConfigFilename)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	return New(cfg, opts.Root, extra...), nil
}
