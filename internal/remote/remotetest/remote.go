package remotetest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/remote"
)

// Home is the directory relative paths resolve against.
const Home = "/home/deploy"

type node struct {
	dir     bool
	link    string
	data    []byte
	modTime time.Time
}

// Remote is an in-memory remote.Remote. It understands the handful of shell
// commands a deploy issues (unzip, rm -rf, ln -s, init scripts, ps) and
// records every call so tests can assert ordering.
type Remote struct {
	mu       sync.Mutex
	nodes    map[string]*node
	calls    []string
	failures []failure
	clock    time.Time
	closed   bool

	// Services tracks the last init script action per service name.
	Services map[string]string
	// ProcessList is returned for `ps` commands.
	ProcessList string
}

type failure struct {
	op    string
	match string
	err   error
}

var _ remote.Remote = (*Remote)(nil)

// New returns an empty remote host whose home directory exists.
func New() *Remote {
	r := &Remote{
		nodes:       make(map[string]*node),
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Services:    make(map[string]string),
		ProcessList: "deploy 4242 0.0 0.1 app",
	}

	r.mkdirAllLocked("/")
	r.mkdirAllLocked(Home)

	return r
}

// FailOn makes the next calls of op whose argument contains match return err.
// Ops are the lowercase method names: run, sudo, upload, exists, readdir,
// readlink, symlink, rename, remove, removeall, realpath, create, readfile.
func (r *Remote) FailOn(op, match string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = append(r.failures, failure{op: op, match: match, err: err})
}

// Calls returns every recorded call in order.
func (r *Remote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.calls)
}

// Mutations returns the recorded calls that change remote state.
func (r *Remote) Mutations() []string {
	var result []string

	for _, c := range r.Calls() {
		op, _, _ := strings.Cut(c, " ")
		switch op {
		case "exists", "readdir", "readlink", "realpath", "readfile":
			continue
		}

		if strings.HasPrefix(c, "run ps ") {
			continue
		}

		result = append(result, c)
	}

	return result
}

// Closed reports whether Close was called.
func (r *Remote) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// MkdirAll creates a directory and its parents.
func (r *Remote) MkdirAll(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mkdirAllLocked(r.abs(p))
}

// WriteFile creates a file, creating parent directories as needed.
func (r *Remote) WriteFile(p string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	abs := r.abs(p)
	r.mkdirAllLocked(path.Dir(abs))
	r.nodes[abs] = &node{data: slices.Clone(data), modTime: r.tick()}
}

// Link creates a symlink without recording a call.
func (r *Remote) Link(target, link string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes[r.abs(link)] = &node{link: target, modTime: r.tick()}
}

// SetModTime overrides the modification time of a path.
func (r *Remote) SetModTime(p string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[r.abs(p)]; ok {
		n.modTime = t
	}
}

// Has reports whether a path exists.
func (r *Remote) Has(p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.nodes[r.abs(p)]

	return ok
}

// LinkTarget returns the target of a symlink, or "" when p is not one.
func (r *Remote) LinkTarget(p string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[r.abs(p)]; ok {
		return n.link
	}

	return ""
}

// File returns the contents of a regular file.
func (r *Remote) File(p string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[r.abs(p)]
	if !ok || n.dir || n.link != "" {
		return nil, false
	}

	return slices.Clone(n.data), true
}

// Run implements remote.Remote.
func (r *Remote) Run(ctx context.Context, cmd string) (string, error) {
	return r.exec(ctx, "run", cmd)
}

// Sudo implements remote.Remote.
func (r *Remote) Sudo(ctx context.Context, cmd string) (string, error) {
	return r.exec(ctx, "sudo", cmd)
}

func (r *Remote) exec(ctx context.Context, op, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, op, cmd); err != nil {
		return "", err
	}

	words := splitWords(cmd)
	if len(words) == 0 {
		return "", r.commandError(cmd, "empty command", 127)
	}

	switch {
	case words[0] == "unzip":
		return r.unzipLocked(cmd, words)
	case words[0] == "rm" && len(words) >= 3:
		for _, p := range words[2:] {
			if p != "--" {
				r.removeAllLocked(r.abs(p))
			}
		}

		return "", nil
	case words[0] == "ln" && len(words) == 4 && words[1] == "-s":
		link := r.abs(words[3])
		if _, ok := r.nodes[link]; ok {
			return "", r.commandError(cmd, "ln: File exists", 1)
		}

		r.nodes[link] = &node{link: words[2], modTime: r.tick()}

		return "", nil
	case words[0] == "update-rc.d":
		return "", nil
	case words[0] == "ps":
		return r.ProcessList + "\n", nil
	case strings.Contains(words[0], "/init.d/") && len(words) == 2:
		if _, ok := r.nodes[r.abs(words[0])]; !ok {
			return "", r.commandError(cmd, "not found", 127)
		}

		r.Services[path.Base(words[0])] = words[1]

		return "", nil
	default:
		return "", r.commandError(cmd, "command not found", 127)
	}
}

func (r *Remote) unzipLocked(cmd string, words []string) (string, error) {
	var archive, dest string

	for i := 1; i < len(words); i++ {
		switch words[i] {
		case "-q", "-o":
		case "-d":
			if i+1 < len(words) {
				dest = words[i+1]
				i++
			}
		default:
			archive = words[i]
		}
	}

	n, ok := r.nodes[r.abs(archive)]
	if !ok || n.dir {
		return "", r.commandError(cmd, "cannot find or open "+archive, 9)
	}

	reader, err := zip.NewReader(bytes.NewReader(n.data), int64(len(n.data)))
	if err != nil {
		return "", r.commandError(cmd, err.Error(), 9)
	}

	destAbs := r.abs(dest)
	r.mkdirAllLocked(destAbs)

	for _, f := range reader.File {
		target := path.Join(destAbs, f.Name)
		if f.FileInfo().IsDir() {
			r.mkdirAllLocked(target)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", r.commandError(cmd, err.Error(), 2)
		}

		data, err := io.ReadAll(rc)
		_ = rc.Close()

		if err != nil {
			return "", r.commandError(cmd, err.Error(), 2)
		}

		r.mkdirAllLocked(path.Dir(target))
		r.nodes[target] = &node{data: data, modTime: r.tick()}
	}

	return "", nil
}

// Upload implements remote.Remote.
func (r *Remote) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err = r.begin(ctx, "upload", remotePath); err != nil {
		return err
	}

	abs := r.abs(remotePath)
	if err = r.parentLocked(abs); err != nil {
		return err
	}

	r.nodes[abs] = &node{data: data, modTime: r.tick()}

	return nil
}

// Exists implements remote.Remote.
func (r *Remote) Exists(ctx context.Context, p string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "exists", p); err != nil {
		return false, err
	}

	_, ok := r.nodes[r.abs(p)]

	return ok, nil
}

// ReadDir implements remote.Remote.
func (r *Remote) ReadDir(ctx context.Context, dir string) ([]release.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "readdir", dir); err != nil {
		return nil, err
	}

	abs := r.abs(dir)
	if n, ok := r.nodes[abs]; !ok || !n.dir {
		return nil, fmt.Errorf("read dir %s: %w", dir, remote.ErrNotExist)
	}

	var entries []release.Entry

	for p, n := range r.nodes {
		if p == abs || path.Dir(p) != abs {
			continue
		}

		entries = append(entries, release.Entry{
			Name:      path.Base(p),
			ModTime:   n.modTime,
			IsDir:     n.dir,
			IsSymlink: n.link != "",
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}

// ReadLink implements remote.Remote.
func (r *Remote) ReadLink(ctx context.Context, p string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "readlink", p); err != nil {
		return "", err
	}

	n, ok := r.nodes[r.abs(p)]
	if !ok {
		return "", fmt.Errorf("readlink %s: %w", p, remote.ErrNotExist)
	}

	if n.link == "" {
		return "", fmt.Errorf("readlink %s: not a symlink", p)
	}

	return n.link, nil
}

// Symlink implements remote.Remote.
func (r *Remote) Symlink(ctx context.Context, target, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "symlink", link+" -> "+target); err != nil {
		return err
	}

	abs := r.abs(link)
	if _, ok := r.nodes[abs]; ok {
		return fmt.Errorf("symlink %s: %w", link, remote.ErrExist)
	}

	if err := r.parentLocked(abs); err != nil {
		return err
	}

	r.nodes[abs] = &node{link: target, modTime: r.tick()}

	return nil
}

// Rename implements remote.Remote.
func (r *Remote) Rename(ctx context.Context, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "rename", from+" "+to); err != nil {
		return err
	}

	fromAbs, toAbs := r.abs(from), r.abs(to)

	n, ok := r.nodes[fromAbs]
	if !ok {
		return fmt.Errorf("rename %s: %w", from, remote.ErrNotExist)
	}

	if n.dir {
		moved := make(map[string]*node)

		for p, child := range r.nodes {
			if strings.HasPrefix(p, fromAbs+"/") {
				moved[toAbs+strings.TrimPrefix(p, fromAbs)] = child
				delete(r.nodes, p)
			}
		}

		maps.Copy(r.nodes, moved)
	}

	delete(r.nodes, fromAbs)
	r.nodes[toAbs] = n

	return nil
}

// Remove implements remote.Remote.
func (r *Remote) Remove(ctx context.Context, p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "remove", p); err != nil {
		return err
	}

	abs := r.abs(p)

	n, ok := r.nodes[abs]
	if !ok {
		return nil
	}

	if n.dir && r.hasChildrenLocked(abs) {
		return fmt.Errorf("remove %s: directory not empty", p)
	}

	delete(r.nodes, abs)

	return nil
}

// RemoveAll implements remote.Remote.
func (r *Remote) RemoveAll(ctx context.Context, p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "removeall", p); err != nil {
		return err
	}

	r.removeAllLocked(r.abs(p))

	return nil
}

// RealPath implements remote.Remote.
func (r *Remote) RealPath(ctx context.Context, p string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "realpath", p); err != nil {
		return "", err
	}

	return r.abs(p), nil
}

// CreateExclusive implements remote.Remote.
func (r *Remote) CreateExclusive(ctx context.Context, p string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "create", p); err != nil {
		return err
	}

	abs := r.abs(p)
	if _, ok := r.nodes[abs]; ok {
		return fmt.Errorf("create %s: %w", p, remote.ErrExist)
	}

	if err := r.parentLocked(abs); err != nil {
		return err
	}

	r.nodes[abs] = &node{data: slices.Clone(data), modTime: r.tick()}

	return nil
}

// ReadFile implements remote.Remote.
func (r *Remote) ReadFile(ctx context.Context, p string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.begin(ctx, "readfile", p); err != nil {
		return nil, err
	}

	n, ok := r.nodes[r.abs(p)]
	if !ok || n.dir {
		return nil, fmt.Errorf("open %s: %w", p, remote.ErrNotExist)
	}

	return slices.Clone(n.data), nil
}

// Close implements remote.Remote.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

// begin records the call and returns an injected failure, if any.
func (r *Remote) begin(ctx context.Context, op, arg string) error {
	r.calls = append(r.calls, op+" "+arg)

	if err := ctx.Err(); err != nil {
		return err
	}

	for i, f := range r.failures {
		if f.op == op && strings.Contains(arg, f.match) {
			r.failures = slices.Delete(r.failures, i, i+1)
			return f.err
		}
	}

	return nil
}

func (r *Remote) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}

	return path.Join(Home, p)
}

func (r *Remote) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func (r *Remote) mkdirAllLocked(abs string) {
	for p := abs; ; p = path.Dir(p) {
		if _, ok := r.nodes[p]; !ok {
			r.nodes[p] = &node{dir: true, modTime: r.tick()}
		}

		if p == "/" {
			return
		}
	}
}

func (r *Remote) parentLocked(abs string) error {
	if n, ok := r.nodes[path.Dir(abs)]; !ok || !n.dir {
		return fmt.Errorf("%s: parent directory: %w", abs, remote.ErrNotExist)
	}

	return nil
}

func (r *Remote) hasChildrenLocked(abs string) bool {
	for p := range r.nodes {
		if strings.HasPrefix(p, abs+"/") {
			return true
		}
	}

	return false
}

func (r *Remote) removeAllLocked(abs string) {
	delete(r.nodes, abs)

	for p := range r.nodes {
		if strings.HasPrefix(p, abs+"/") {
			delete(r.nodes, p)
		}
	}
}

func (r *Remote) commandError(cmd, output string, status int) error {
	return &remote.CommandError{Command: cmd, Output: output, ExitStatus: status}
}

// splitWords splits a command line on spaces and strips single quotes.
func splitWords(cmd string) []string {
	fields := strings.Fields(cmd)
	for i, f := range fields {
		fields[i] = strings.Trim(f, "'")
	}

	return fields
}
