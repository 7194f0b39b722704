package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
	"github.com/oshokin/symdeploy/internal/remote"
)

const (
	// DefaultStaleAfter is the age after which a lease is considered abandoned.
	DefaultStaleAfter = 30 * time.Minute
	// DefaultWait bounds how long Acquire waits for a held lease.
	DefaultWait = time.Minute

	defaultBackoffBase = time.Second
	defaultBackoffMax  = 15 * time.Second
)

var (
	// ErrLeaseHeld is returned when another deploy holds the lease past the wait deadline.
	ErrLeaseHeld = errors.New("deploy lease is held by another run")
	// ErrLeaseLost is returned by Release when the lease file belongs to someone else.
	ErrLeaseLost = errors.New("deploy lease is no longer owned by this run")
)

// Lease is the content of the lock file.
type Lease struct {
	// Owner identifies one acquisition.
	Owner string `yaml:"owner"`
	// Actor is the machine and user that started the deploy.
	Actor release.Actor `yaml:"actor"`
	// PID is the local process id of the deploy.
	PID int `yaml:"pid"`
	// Revision is the revision being deployed, empty for maintenance commands.
	Revision release.Revision `yaml:"revision,omitempty"`
	// AcquiredAt is when the lease was written.
	AcquiredAt time.Time `yaml:"acquired_at"`
}

// String describes the holder for log and error messages.
func (l *Lease) String() string {
	s := fmt.Sprintf("%s@%s (pid %d) since %s",
		l.Actor.Username, l.Actor.Hostname, l.PID, l.AcquiredAt.Format(time.RFC3339))
	if l.Revision != "" {
		s += ", deploying " + l.Revision.Short()
	}

	return s
}

// Manager acquires and releases the lease of one deploy root.
type Manager struct {
	remote      remote.Remote
	layout      release.Layout
	staleAfter  time.Duration
	wait        time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithStaleAfter sets the age after which a held lease is broken.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithWait sets how long Acquire keeps retrying a held lease.
func WithWait(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.wait = d
		}
	}
}

// WithBackoff sets the first and the maximum retry delay.
func WithBackoff(base, maximum time.Duration) Option {
	return func(m *Manager) {
		m.backoffBase = base
		m.backoffMax = maximum
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a lease manager for the deploy root described by layout.
func NewManager(r remote.Remote, layout release.Layout, opts ...Option) *Manager {
	m := &Manager{
		remote:      r,
		layout:      layout,
		staleAfter:  DefaultStaleAfter,
		wait:        DefaultWait,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Acquire creates the lease file for revision. A held lease is retried with
// exponential backoff until the wait deadline, and broken when it is stale.
func (m *Manager) Acquire(ctx context.Context, revision release.Revision, actor *release.Actor) (*Lease, error) {
	ctx = logger.WithName(ctx, "lease")

	own := &Lease{
		Owner:      uuid.NewString(),
		PID:        os.Getpid(),
		Revision:   revision,
		AcquiredAt: m.now().UTC(),
	}

	if actor != nil {
		own.Actor = *actor
	}

	data, err := yaml.Marshal(own)
	if err != nil {
		return nil, fmt.Errorf("encode lease: %w", err)
	}

	path := m.layout.Lease()
	deadline := m.now().Add(m.wait)
	delays := newBackoff(m.backoffBase, m.backoffMax)

	for {
		err = m.remote.CreateExclusive(ctx, path, data)
		if err == nil {
			logger.InfoKV(ctx, "Lease acquired", "path", path, "owner", own.Owner)
			return own, nil
		}

		if !errors.Is(err, remote.ErrExist) {
			return nil, fmt.Errorf("create lease %s: %w", path, err)
		}

		held, readErr := m.Current(ctx)

		switch {
		case errors.Is(readErr, remote.ErrNotExist):
			// Released between our create and read.
			continue
		case readErr != nil:
			return nil, fmt.Errorf("%w: %s is unreadable, remove it if no deploy is running: %w",
				ErrLeaseHeld, path, readErr)
		}

		if age := m.now().Sub(held.AcquiredAt); age > m.staleAfter {
			logger.WarnKV(ctx, "Breaking stale lease", "holder", held.String(), "age", age.Round(time.Second))

			if _, err = m.breakStale(ctx, held); err != nil {
				return nil, err
			}

			continue
		}

		delay := delays.Next()
		if m.now().Add(delay).After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, held)
		}

		logger.InfoKV(ctx, "Waiting for lease", "holder", held.String(), "retry_in", delay)

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// breakStale moves the lease aside and deletes it only when it still belongs
// to holder. A lease replaced since holder was read is put back.
func (m *Manager) breakStale(ctx context.Context, holder *Lease) (bool, error) {
	path := m.layout.Lease()
	aside := path + ".stale-" + uuid.NewString()

	if err := m.remote.Rename(ctx, path, aside); err != nil {
		if errors.Is(err, remote.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("move stale lease %s: %w", path, err)
	}

	data, err := m.remote.ReadFile(ctx, aside)
	if err != nil {
		return false, fmt.Errorf("read stale lease %s: %w", aside, err)
	}

	var moved Lease
	if err = yaml.Unmarshal(data, &moved); err == nil && moved.Owner == holder.Owner {
		if err = m.remote.Remove(ctx, aside); err != nil {
			return false, fmt.Errorf("remove stale lease %s: %w", aside, err)
		}

		return true, nil
	}

	logger.WarnKV(ctx, "Lease was taken over while breaking it, restoring", "owner", moved.Owner)

	err = m.remote.CreateExclusive(ctx, path, data)

	switch {
	case errors.Is(err, remote.ErrExist):
		logger.WarnKV(ctx, "Lease was recreated before restore", "displaced", moved.String())
	case err != nil:
		return false, fmt.Errorf("restore lease %s: %w", path, err)
	}

	if err = m.remote.Remove(ctx, aside); err != nil {
		return false, fmt.Errorf("remove %s: %w", aside, err)
	}

	return false, nil
}

// Release removes the lease file if it still belongs to l.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	ctx = logger.WithName(ctx, "lease")

	held, err := m.Current(ctx)

	switch {
	case errors.Is(err, remote.ErrNotExist):
		return fmt.Errorf("%w: lease file is gone", ErrLeaseLost)
	case err != nil:
		return err
	case held.Owner != l.Owner:
		return fmt.Errorf("%w: now held by %s", ErrLeaseLost, held)
	}

	if err = m.remote.Remove(ctx, m.layout.Lease()); err != nil {
		return fmt.Errorf("remove lease: %w", err)
	}

	logger.InfoKV(ctx, "Lease released", "owner", l.Owner)

	return nil
}

// Current reads the lease file. It wraps remote.ErrNotExist when nobody holds it.
func (m *Manager) Current(ctx context.Context) (*Lease, error) {
	data, err := m.remote.ReadFile(ctx, m.layout.Lease())
	if err != nil {
		return nil, err
	}

	var held Lease
	if err = yaml.Unmarshal(data, &held); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}

	if held.Owner == "" {
		return nil, fmt.Errorf("decode lease: %s has no owner", m.layout.Lease())
	}

	return &held, nil
}
