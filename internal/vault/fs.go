// Package vault is the virtual file tree the built-in file tools operate on.
// The host owns the real tree; DirFS backs it with a local directory.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrOutsideRoot is returned for paths that resolve outside the tree root.
var ErrOutsideRoot = errors.New("path escapes vault root")

// FileInfo describes one file in the tree. Path is slash-separated and
// relative to the root.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// WriteOptions overrides file timestamps on write. Zero values keep the
// filesystem's own timestamps.
type WriteOptions struct {
	Ctime time.Time
	Mtime time.Time
}

// FS is the host file-tree API consumed by built-in tools.
type FS interface {
	List(ctx context.Context) ([]FileInfo, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, opts WriteOptions) error
	Delete(ctx context.Context, path string) error
}

// DirFS implements FS over a local directory.
type DirFS struct {
	root string
}

var _ FS = (*DirFS)(nil)

func NewDirFS(root string) (*DirFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault root %q: %w", abs, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault root %q is not a directory", abs)
	}
	return &DirFS{root: abs}, nil
}

// Root returns the absolute root directory.
func (d *DirFS) Root() string { return d.root }

func (d *DirFS) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(strings.TrimSpace(path)))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, path)
	}
	full, err := realPath(filepath.Join(d.root, clean))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrOutsideRoot, path, err)
	}
	rel, err := filepath.Rel(d.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, path)
	}
	return full, nil
}

// realPath follows symlinks in the longest existing prefix of p and
// appends the components that do not exist yet.
func realPath(p string) (string, error) {
	existing, rest := p, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, rest), nil
}

func (d *DirFS) List(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if p != d.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vault: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (d *DirFS) Read(_ context.Context, path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Write creates or replaces a file, creating parent directories as needed.
// Ctime cannot be set portably; only Mtime is applied.
func (d *DirFS) Write(_ context.Context, path string, data []byte, opts WriteOptions) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if !opts.Mtime.IsZero() {
		if err := os.Chtimes(full, opts.Mtime, opts.Mtime); err != nil {
			return fmt.Errorf("failed to set mtime on %s: %w", path, err)
		}
	}
	return nil
}

func (d *DirFS) Delete(_ context.Context, path string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
