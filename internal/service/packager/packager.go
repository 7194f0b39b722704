package packager

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/symdeploy/internal/domain/release"
	"github.com/oshokin/symdeploy/internal/logger"
)

// Options contains the inputs of one archive.
type Options struct {
	// Revision names the archive file.
	Revision release.Revision
	// Root is the invocation root that the other paths are relative to.
	Root string
	// OutputDir is where <revision>.zip is written, defaults to Root.
	OutputDir string
	// ConfigFile is the application config file, stored under its own path.
	ConfigFile string
	// Binary is the built executable.
	Binary string
	// ArchiveBinary is the name the executable gets inside the archive.
	ArchiveBinary string
	// AssetDirs are walked recursively.
	AssetDirs []string
}

// Archive describes a written archive.
type Archive struct {
	// Path is the local path of the archive file.
	Path string
	// Entries lists the names stored in the archive, in order.
	Entries []string
	// Size is the archive size in bytes.
	Size int64
}

// entryTime is stamped on every entry so the output only depends on content.
//
//nolint:gochecknoglobals // Constant value, time.Time cannot be a const.
var entryTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	binaryMode = 0o755
	fileMode   = 0o644
)

var (
	errNoRevision = errors.New("revision is required")
	errNoBinary   = errors.New("binary is required")
	errEscapes    = errors.New("path escapes the invocation root")
)

type item struct {
	name   string
	source string
	mode   fs.FileMode
}

// Build writes <revision>.zip, replacing an existing file of the same name.
// A missing input aborts the build and leaves no partial archive behind.
func Build(ctx context.Context, opts *Options) (*Archive, error) {
	ctx = logger.WithName(ctx, "packager")

	if opts.Revision == "" {
		return nil, errNoRevision
	}

	if opts.Binary == "" {
		return nil, errNoBinary
	}

	root := opts.Root
	if root == "" {
		root = "."
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = root
	}

	items, err := collect(root, opts)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(outputDir, opts.Revision.ArchiveName())
	logger.InfoKV(ctx, "Packing archive", "path", target, "files", len(items))

	size, err := write(ctx, target, items)
	if err != nil {
		return nil, err
	}

	entries := make([]string, 0, len(items))
	for _, it := range items {
		entries = append(entries, it.name)
	}

	logger.InfoKV(ctx, "Archive ready", "path", target, "bytes", size)

	return &Archive{Path: target, Entries: entries, Size: size}, nil
}

// collect resolves every input into an ordered list of archive items:
// config file, binary, then asset files in lexical walk order.
func collect(root string, opts *Options) ([]item, error) {
	var items []item

	seen := make(map[string]struct{})
	add := func(it item) {
		if _, dup := seen[it.name]; dup {
			return
		}

		seen[it.name] = struct{}{}
		items = append(items, it)
	}

	if opts.ConfigFile != "" {
		name, err := archiveName(opts.ConfigFile)
		if err != nil {
			return nil, err
		}

		src := filepath.Join(root, opts.ConfigFile)
		if err = requireRegular(src); err != nil {
			return nil, err
		}

		add(item{name: name, source: src, mode: fileMode})
	}

	binaryName := opts.ArchiveBinary
	if binaryName == "" {
		binaryName = filepath.Base(opts.Binary)
	}

	binarySrc := filepath.Join(root, opts.Binary)
	if err := requireRegular(binarySrc); err != nil {
		return nil, err
	}

	add(item{name: path.Clean(filepath.ToSlash(binaryName)), source: binarySrc, mode: binaryMode})

	for _, dir := range opts.AssetDirs {
		files, err := walk(root, dir)
		if err != nil {
			return nil, err
		}

		for _, it := range files {
			add(it)
		}
	}

	return items, nil
}

// walk returns every regular file below dir, symlinks to files included.
func walk(root, dir string) ([]item, error) {
	var items []item

	base := filepath.Join(root, dir)

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		info, err := os.Stat(p)
		if err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		name, err := archiveName(rel)
		if err != nil {
			return err
		}

		items = append(items, item{name: name, source: p, mode: info.Mode().Perm()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	return items, nil
}

// write streams items into a temporary file and renames it over target.
func write(ctx context.Context, target string, items []item) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".symdeploy-*.zip")
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)

	for _, it := range items {
		if err = ctx.Err(); err != nil {
			return 0, err
		}

		if err = addFile(zw, it); err != nil {
			return 0, err
		}

		logger.DebugKV(ctx, "Added file", "name", it.name)
	}

	if err = zw.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w", err)
	}

	if err = os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename archive: %w", err)
	}

	committed = true

	return info.Size(), nil
}

func addFile(zw *zip.Writer, it item) error {
	src, err := os.Open(filepath.Clean(it.source))
	if err != nil {
		return fmt.Errorf("open %s: %w", it.source, err)
	}

	defer func() {
		_ = src.Close()
	}()

	//nolint:exhaustruct // Sizes and CRC are filled in by the writer.
	header := &zip.FileHeader{
		Name:     it.name,
		Method:   zip.Deflate,
		Modified: entryTime,
	}
	header.SetMode(it.mode)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", it.name, err)
	}

	if _, err = io.Copy(w, src); err != nil {
		return fmt.Errorf("compress %s: %w", it.name, err)
	}

	return nil
}

func requireRegular(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", p)
	}

	return nil
}

// archiveName converts a relative local path to a slash-separated entry name.
func archiveName(rel string) (string, error) {
	name := path.Clean(filepath.ToSlash(rel))
	if filepath.IsAbs(rel) || name == ".." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("%s: %w", rel, errEscapes)
	}

	return name, nil
}
