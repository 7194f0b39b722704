package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// initRepo creates a repository with one committed file and returns its
// directory and the commit hash.
func initRepo(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	worktree, err := repo.Worktree()
	require.NoError(t, err)

	_, err = worktree.Add("main.go")
	require.NoError(t, err)

	hash, err := worktree.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Deployer", Email: "deploy@example.org", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

// TestGit_CleanTreeAndHead returns the full commit hash of a clean tree.
func TestGit_CleanTreeAndHead(t *testing.T) {
	t.Parallel()

	dir, hash := initRepo(t)

	g, err := Open(dir)
	require.NoError(t, err)

	clean, status, err := g.Status(context.Background())
	require.NoError(t, err)
	require.True(t, clean)
	require.Empty(t, status)

	head, err := g.Head(context.Background())
	require.NoError(t, err)
	require.Equal(t, hash, head.String())
	require.Len(t, head.String(), 40)
}

// TestGit_DirtyTree reports modified and untracked files.
func TestGit_DirtyTree(t *testing.T) {
	t.Parallel()

	cases := map[string]func(t *testing.T, dir string){
		"modified": func(t *testing.T, dir string) {
			t.Helper()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package other\n"), 0o644))
		},
		"untracked": func(t *testing.T, dir string) {
			t.Helper()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("todo\n"), 0o644))
		},
	}

	for name, dirty := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir, _ := initRepo(t)
			dirty(t, dir)

			g, err := Open(dir)
			require.NoError(t, err)

			clean, status, err := g.Status(context.Background())
			require.NoError(t, err)
			require.False(t, clean)
			require.NotEmpty(t, status)
		})
	}
}

// TestGit_GlobalExcludes ignores files matched by the user's core.excludesFile.
// It changes HOME, so it does not run in parallel.
func TestGit_GlobalExcludes(t *testing.T) {
	home := t.TempDir()
	ignore := filepath.Join(home, "gitignore_global")

	require.NoError(t, os.WriteFile(ignore, []byte("*.swp\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".gitconfig"),
		[]byte("[core]\n\texcludesfile = "+ignore+"\n"), 0o644))
	t.Setenv("HOME", home)

	dir, _ := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".main.go.swp"), []byte("swap"), 0o644))

	g, err := Open(dir)
	require.NoError(t, err)

	clean, status, err := g.Status(context.Background())
	require.NoError(t, err)
	require.True(t, clean, status)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("todo\n"), 0o644))

	clean, status, err = g.Status(context.Background())
	require.NoError(t, err)
	require.False(t, clean)
	require.Contains(t, status, "notes.txt")
	require.NotContains(t, status, ".swp")
}

// TestGit_OpenFromSubdirectory finds the repository from a nested directory.
func TestGit_OpenFromSubdirectory(t *testing.T) {
	t.Parallel()

	dir, hash := initRepo(t)
	sub := filepath.Join(dir, "cmd", "app")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	g, err := Open(sub)
	require.NoError(t, err)

	head, err := g.Head(context.Background())
	require.NoError(t, err)
	require.Equal(t, hash, head.String())
}

// TestGit_NoCommits reports an empty repository.
func TestGit_NoCommits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	g, err := Open(dir)
	require.NoError(t, err)

	_, err = g.Head(context.Background())
	require.ErrorIs(t, err, ErrNoCommits)

	_, err = Open(t.TempDir())
	require.Error(t, err)
}
