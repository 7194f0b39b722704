package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
)

// Repository answers the source-control questions a deploy asks.
type Repository interface {
	// Status reports whether the working tree is clean and returns the
	// porcelain-style status text when it is not.
	Status(ctx context.Context) (bool, string, error)
	// Head returns the full hash of the commit HEAD points at.
	Head(ctx context.Context) (release.Revision, error)
}

// ErrNoCommits is returned for a repository without any commit yet.
var ErrNoCommits = errors.New("repository has no commits")

// Git is a Repository backed by go-git, so no git binary is needed.
type Git struct {
	repo *git.Repository
	// host is where the system and user git configs are looked up.
	host billy.Filesystem
}

var _ Repository = (*Git)(nil)

// Open opens the repository containing dir, searching parent directories.
func Open(dir string) (*Git, error) {
	//nolint:exhaustruct // Only parent lookup is needed.
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}

	return &Git{repo: repo, host: osfs.New("/")}, nil
}

// Status reports tracked and untracked changes alike.
func (g *Git) Status(ctx context.Context) (bool, string, error) {
	worktree, err := g.repo.Worktree()
	if err != nil {
		return false, "", fmt.Errorf("get worktree: %w", err)
	}

	worktree.Excludes = append(worktree.Excludes, configuredExcludes(ctx, g.host)...)

	status, err := worktree.Status()
	if err != nil {
		return false, "", fmt.Errorf("get worktree status: %w", err)
	}

	if status.IsClean() {
		return true, "", nil
	}

	logger.DebugKV(ctx, "Working tree has changes", "files", len(status))

	return false, status.String(), nil
}

// Head returns the hash of the latest commit on the checked out branch.
func (g *Git) Head(_ context.Context) (release.Revision, error) {
	ref, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoCommits
		}

		return "", fmt.Errorf("get HEAD: %w", err)
	}

	return release.ParseRevision(ref.Hash().String())
}

// configuredExcludes returns the core.excludesFile patterns of the system and
// user git configs. go-git only reads the repository's own ignore files.
func configuredExcludes(ctx context.Context, host billy.Filesystem) []gitignore.Pattern {
	system, err := gitignore.LoadSystemPatterns(host)
	if err != nil {
		logger.WarnKV(ctx, "Failed to load system git excludes", "error", err)
	}

	global, err := gitignore.LoadGlobalPatterns(host)
	if err != nil {
		logger.WarnKV(ctx, "Failed to load global git excludes", "error", err)
	}

	return append(system, global...)
}
