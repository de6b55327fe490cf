package vault

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirFS_WriteReadListDelete(t *testing.T) {
	ctx := context.Background()
	fsys, err := NewDirFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirFS: %v", err)
	}

	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := fsys.Write(ctx, "notes/today.md", []byte("hello"), WriteOptions{Mtime: mtime}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := fsys.Read(ctx, "notes/today.md")
	if err != nil || string(data) != "hello" {
		t.Fatalf("Read = %q, %v", data, err)
	}

	files, err := fsys.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0].Path != "notes/today.md" {
		t.Fatalf("unexpected listing: %+v", files)
	}
	if !files[0].ModTime.Equal(mtime) {
		t.Fatalf("mtime = %v, want %v", files[0].ModTime, mtime)
	}

	if err := fsys.Delete(ctx, "notes/today.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fsys.Root(), "notes", "today.md")); !os.IsNotExist(err) {
		t.Fatalf("file still present after delete: %v", err)
	}
}

func TestDirFS_RejectsEscapes(t *testing.T) {
	fsys, err := NewDirFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirFS: %v", err)
	}
	// Cleaning against "/" pins ".." to the root, so only the root itself is rejected.
	if _, err := fsys.Read(context.Background(), "/"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	if err := fsys.Write(context.Background(), "../../etc/passwd", []byte("x"), WriteOptions{}); err != nil {
		t.Fatalf("write with dot-dot should stay inside root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fsys.Root(), "etc", "passwd")); err != nil {
		t.Fatalf("expected file pinned inside root: %v", err)
	}
}

func TestDirFS_RejectsSymlinkEscapes(t *testing.T) {
	ctx := context.Background()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	fsys, err := NewDirFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirFS: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(fsys.Root(), "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(fsys.Root(), "leaf.txt")); err != nil {
		t.Fatal(err)
	}

	if _, err := fsys.Read(ctx, "link/secret.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("Read through dir link: expected ErrOutsideRoot, got %v", err)
	}
	if _, err := fsys.Read(ctx, "leaf.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("Read through file link: expected ErrOutsideRoot, got %v", err)
	}
	if err := fsys.Write(ctx, "link/new/file.txt", []byte("x"), WriteOptions{}); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("Write through dir link: expected ErrOutsideRoot, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "new")); !os.IsNotExist(err) {
		t.Fatalf("write escaped the root: %v", err)
	}
	if err := fsys.Delete(ctx, "link/secret.txt"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("Delete through dir link: expected ErrOutsideRoot, got %v", err)
	}
}

func TestDirFS_FollowsSymlinksInsideRoot(t *testing.T) {
	ctx := context.Background()
	fsys, err := NewDirFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirFS: %v", err)
	}
	if err := fsys.Write(ctx, "real/a.md", []byte("a"), WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.Symlink(filepath.Join(fsys.Root(), "real"), filepath.Join(fsys.Root(), "alias")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	data, err := fsys.Read(ctx, "alias/a.md")
	if err != nil || string(data) != "a" {
		t.Fatalf("Read = %q, %v", data, err)
	}
}
