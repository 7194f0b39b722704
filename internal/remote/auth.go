package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshAuthSockEnv names the environment variable pointing at the agent socket.
const sshAuthSockEnv = "SSH_AUTH_SOCK"

// defaultIdentityFiles are tried in order when neither a key nor an agent is configured.
//
//nolint:gochecknoglobals // Read-only list of conventional key names.
var defaultIdentityFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

var (
	// errNoAuthMethods is returned when no key or agent could be found.
	errNoAuthMethods = errors.New("no ssh authentication method available")
	// errAgentUnavailable is returned when use_agent is set but no agent is running.
	errAgentUnavailable = errors.New("ssh agent requested but " + sshAuthSockEnv + " is not set")
)

// authMethods builds the authentication chain. The returned closers keep the
// agent connection open for the lifetime of the client.
func authMethods(opts *Options) ([]ssh.AuthMethod, []io.Closer, error) {
	var (
		methods []ssh.AuthMethod
		closers []io.Closer
	)

	if opts.IdentityFile != "" {
		signer, err := loadSigner(opts.IdentityFile)
		if err != nil {
			return nil, nil, err
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	explicit := opts.IdentityFile != "" || opts.UseAgent
	sock := os.Getenv(sshAuthSockEnv)

	switch {
	case opts.UseAgent && sock == "":
		return nil, nil, errAgentUnavailable
	case opts.UseAgent || (!explicit && sock != ""):
		conn, err := net.Dial("unix", sock)
		if err != nil {
			if opts.UseAgent {
				return nil, nil, fmt.Errorf("connect to ssh agent: %w", err)
			}

			break
		}

		closers = append(closers, conn)
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if !explicit {
		methods = append(methods, defaultKeySigners()...)
	}

	if len(methods) == 0 {
		return nil, nil, errNoAuthMethods
	}

	return methods, closers, nil
}

// loadSigner parses an unencrypted private key file.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(filepath.Clean(expandHome(path)))
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}

	return signer, nil
}

// defaultKeySigners loads whichever conventional keys exist in ~/.ssh.
func defaultKeySigners() []ssh.AuthMethod {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	var methods []ssh.AuthMethod

	for _, name := range defaultIdentityFiles {
		signer, err := loadSigner(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	return methods
}

// hostKeyCallback verifies the server key against known_hosts.
func hostKeyCallback(opts *Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		//nolint:gosec // Explicitly requested by the operator in the settings file.
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := opts.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}

		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	return callback, nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
