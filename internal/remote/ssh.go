package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/oshokin/symdeploy/internal/config"
	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
)

// Options configure the SSH connection.
type Options struct {
	// Address is the host:port to dial.
	Address string
	// User is the login user.
	User string
	// IdentityFile is a private key file; optional when an agent is available.
	IdentityFile string
	// UseAgent enables keys from the ssh-agent.
	UseAgent bool
	// KnownHostsFile verifies the server key, defaults to ~/.ssh/known_hosts.
	KnownHostsFile string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	// Timeout bounds the handshake and each command; zero disables it.
	Timeout time.Duration
}

// OptionsFromConfig maps deploy settings to connection options.
func OptionsFromConfig(cfg *config.Config) *Options {
	return &Options{
		Address:               cfg.Address(),
		User:                  cfg.User,
		IdentityFile:          cfg.IdentityFile,
		UseAgent:              cfg.UseAgent,
		KnownHostsFile:        cfg.KnownHostsFile,
		InsecureIgnoreHostKey: cfg.InsecureIgnoreHostKey,
		Timeout:               cfg.Timeout,
	}
}

// Client is a Remote backed by an SSH connection with an SFTP subsystem
// for file operations.
type Client struct {
	ssh     *ssh.Client
	sftp    *sftp.Client
	timeout time.Duration
	closers []io.Closer
}

var _ Remote = (*Client)(nil)

// Dial connects to the host described by opts and opens an SFTP session.
func Dial(ctx context.Context, opts *Options) (*Client, error) {
	auth, closers, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	//nolint:exhaustruct // Remaining fields keep the library defaults.
	clientConfig := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}

	//nolint:exhaustruct // Zero values are the defaults.
	dialer := net.Dialer{Timeout: opts.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("dial %s: %w", opts.Address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, opts.Address, clientConfig)
	if err != nil {
		_ = conn.Close()

		closeAll(closers)

		return nil, fmt.Errorf("ssh handshake with %s: %w", opts.Address, err)
	}

	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()

		closeAll(closers)

		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}

	logger.DebugKV(ctx, "Connected to remote host", "address", opts.Address, "user", opts.User)

	return &Client{
		ssh:     sshClient,
		sftp:    sftpClient,
		timeout: opts.Timeout,
		closers: closers,
	}, nil
}

// Close closes the SFTP session, the SSH connection and the agent socket.
func (c *Client) Close() error {
	errs := []error{c.sftp.Close(), c.ssh.Close()}

	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}

	return errors.Join(errs...)
}

// Run executes cmd through the login shell.
func (c *Client) Run(ctx context.Context, cmd string) (string, error) {
	return c.exec(ctx, cmd)
}

// Sudo executes cmd as root through `sudo -n`, which fails instead of prompting.
func (c *Client) Sudo(ctx context.Context, cmd string) (string, error) {
	return c.exec(ctx, "sudo -n -- sh -c "+Quote(cmd))
}

func (c *Client) exec(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	session, err := c.ssh.NewSession()
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}

	defer func() {
		_ = session.Close()
	}()

	// Stdout and stderr are copied by separate goroutines.
	var output lockedBuffer

	session.Stdout = &output
	session.Stderr = &output

	logger.DebugKV(ctx, "Running remote command", "command", cmd)

	done := make(chan error, 1)

	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()

		<-done

		return output.String(), fmt.Errorf("%q: %w", cmd, ctx.Err())
	case err = <-done:
	}

	if err == nil {
		return output.String(), nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return output.String(), &CommandError{
			Command:    cmd,
			Output:     output.String(),
			ExitStatus: exitErr.ExitStatus(),
			Err:        nil,
		}
	}

	return output.String(), &CommandError{Command: cmd, Output: output.String(), ExitStatus: -1, Err: err}
}

// Upload streams a local file into remotePath.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}

	defer func() {
		_ = src.Close()
	}()

	dst, err := c.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remotePath, err)
	}

	written, err := dst.ReadFrom(src)
	if err != nil {
		_ = dst.Close()
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}

	if err = dst.Close(); err != nil {
		return fmt.Errorf("close remote %s: %w", remotePath, err)
	}

	logger.DebugKV(ctx, "Uploaded file", "path", remotePath, "bytes", written)

	return nil
}

// Exists uses lstat so a dangling symlink still counts as present.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := c.sftp.Lstat(p)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("lstat %s: %w", p, err)
	}
}

// ReadDir lists dir; SFTP directory listings carry lstat attributes.
func (c *Client) ReadDir(ctx context.Context, dir string) ([]release.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, translate(err))
	}

	entries := make([]release.Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, release.Entry{
			Name:      info.Name(),
			ModTime:   info.ModTime(),
			IsDir:     info.IsDir(),
			IsSymlink: info.Mode()&fs.ModeSymlink != 0,
		})
	}

	return entries, nil
}

// ReadLink returns the symlink target as stored.
func (c *Client) ReadLink(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target, err := c.sftp.ReadLink(p)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", p, translate(err))
	}

	return target, nil
}

// Symlink creates link pointing at target.
func (c *Client) Symlink(ctx context.Context, target, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.sftp.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", link, target, err)
	}

	return nil
}

// Rename uses the posix-rename extension so an existing destination is replaced.
func (c *Client) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.sftp.PosixRename(from, to); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", from, to, translate(err))
	}

	return nil
}

// Remove deletes a file or symlink.
func (c *Client) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.sftp.Remove(p)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if exists, statErr := c.Exists(ctx, p); statErr == nil && !exists {
		return nil
	}

	return fmt.Errorf("remove %s: %w", p, err)
}

// RemoveAll runs `rm -rf`, which is one round trip instead of one per file.
func (c *Client) RemoveAll(ctx context.Context, p string) error {
	_, err := c.Run(ctx, "rm -rf -- "+Quote(p))
	return err
}

// RealPath resolves p on the server.
func (c *Client) RealPath(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	abs, err := c.sftp.RealPath(p)
	if err != nil {
		return "", fmt.Errorf("realpath %s: %w", p, translate(err))
	}

	return abs, nil
}

// CreateExclusive writes data into a new file opened with O_EXCL.
func (c *Client) CreateExclusive(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := c.sftp.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		// Servers report O_EXCL conflicts as a generic failure, so look again.
		if exists, statErr := c.Exists(ctx, p); statErr == nil && exists {
			return fmt.Errorf("create %s: %w", p, ErrExist)
		}

		return fmt.Errorf("create %s: %w", p, err)
	}

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}

	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p, err)
	}

	return nil
}

// ReadFile reads a whole remote file.
func (c *Client) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := c.sftp.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, translate(err))
	}

	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	return data, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.timeout)
}

// translate maps SFTP not-found errors onto ErrNotExist.
func translate(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotExist, err)
	}

	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}
