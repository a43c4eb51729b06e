// Package storage mirrors the folder hierarchy onto the local filesystem.
//
// Local is the only place in the service that touches the disk. Paths are
// absolute and must stay inside the configured root; the storage root itself
// can never be renamed or removed through it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/pathx"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	tempPattern = ".vdrive-*.tmp"
	copyBufSize = 256 * 1024
)

// Config holds local filesystem settings.
type Config struct {
	Root       string
	CreateRoot bool
}

// Local implements the physical store over a directory tree rooted at root.
type Local struct {
	root string
}

// New validates the storage root and returns a store bound to it. The root
// must be an absolute, writable directory.
func New(cfg Config) (*Local, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: storage root is required", common.ErrInvariantViolation)
	}
	if !filepath.IsAbs(cfg.Root) {
		return nil, fmt.Errorf("%w: storage root %q is not absolute", common.ErrInvariantViolation, cfg.Root)
	}
	root := filepath.Clean(cfg.Root)

	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cfg.CreateRoot:
		if err := os.MkdirAll(root, dirPerm); err != nil {
			return nil, fmt.Errorf("%w: create root %s: %w", common.ErrIO, root, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: stat root %s: %w", common.ErrIO, root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: storage root %s is not a directory", common.ErrInvariantViolation, root)
	}

	// probe writability once, at startup
	probe, err := os.CreateTemp(root, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: storage root %s is not writable: %w", common.ErrIO, root, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &Local{root: root}, nil
}

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

func (l *Local) check(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrIO, err)
	}
	for _, p := range paths {
		if !filepath.IsAbs(p) || !pathx.Within(l.root, p) {
			return fmt.Errorf("%w: path %q escapes storage root", common.ErrInvariantViolation, p)
		}
	}
	return nil
}

func (l *Local) isRoot(p string) bool {
	return filepath.Clean(p) == l.root
}

// EnsureDirectory creates path and any missing ancestors. It reports whether
// the leaf directory was created by this call, so a caller undoing its own
// work never removes a directory somebody else made.
func (l *Local) EnsureDirectory(ctx context.Context, path string) (bool, error) {
	if err := l.check(ctx, path); err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("%w: %s exists and is not a directory", common.ErrPathConflict, path)
		}
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%w: stat %s: %w", common.ErrIO, path, err)
	}

	if err := os.MkdirAll(path, dirPerm); err != nil {
		return false, fmt.Errorf("%w: mkdir %s: %w", common.ErrIO, path, err)
	}
	return true, nil
}

// RenameDirectory atomically moves a directory, and with it the whole subtree.
func (l *Local) RenameDirectory(ctx context.Context, oldPath, newPath string) error {
	if err := l.check(ctx, oldPath, newPath); err != nil {
		return err
	}
	if l.isRoot(oldPath) || l.isRoot(newPath) {
		return fmt.Errorf("%w: the storage root cannot be renamed", common.ErrInvariantViolation)
	}

	info, err := os.Lstat(oldPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: directory %s", common.ErrNotFound, oldPath)
	}
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", common.ErrIO, oldPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", common.ErrPathConflict, oldPath)
	}

	return renameNoReplace(oldPath, newPath)
}

// MoveFile relocates a file without ever replacing an existing one.
func (l *Local) MoveFile(ctx context.Context, oldPath, newPath string) error {
	if err := l.check(ctx, oldPath, newPath); err != nil {
		return err
	}
	if _, err := os.Lstat(oldPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: file %s", common.ErrNotFound, oldPath)
		}
		return fmt.Errorf("%w: stat %s: %w", common.ErrIO, oldPath, err)
	}
	return renameNoReplace(oldPath, newPath)
}

// RemoveDirectoryRecursive deletes path and everything below it. A partially
// completed removal is reported as an error, never swallowed. A missing
// directory counts as removed.
func (l *Local) RemoveDirectoryRecursive(ctx context.Context, path string) error {
	if err := l.check(ctx, path); err != nil {
		return err
	}
	if l.isRoot(path) {
		return fmt.Errorf("%w: the storage root cannot be removed", common.ErrInvariantViolation)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: remove %s (removal may be partial): %w", common.ErrIO, path, err)
	}
	return nil
}

// WriteFile stores the whole content of r at path and returns the number of
// bytes written. Content goes to a temporary file in the target directory and
// is renamed into place, so a failed write leaves nothing behind.
func (l *Local) WriteFile(ctx context.Context, path string, r io.Reader) (int64, error) {
	if err := l.check(ctx, path); err != nil {
		return 0, err
	}
	if _, err := os.Lstat(path); err == nil {
		return 0, fmt.Errorf("%w: %s already exists", common.ErrPathConflict, path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, fmt.Errorf("%w: create dirs for %s: %w", common.ErrIO, path, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return 0, fmt.Errorf("%w: create temp for %s: %w", common.ErrIO, path, err)
	}
	tmpName := tmp.Name()

	n, err := copyAbandonable(ctx, tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: write %s: %w", common.ErrIO, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: sync %s: %w", common.ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: close temp for %s: %w", common.ErrIO, path, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("%w: chmod %s: %w", common.ErrIO, path, err)
	}

	if err := renameNoReplace(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

// RemoveFile deletes a file. An already absent file counts as removed.
func (l *Local) RemoveFile(ctx context.Context, path string) error {
	if err := l.check(ctx, path); err != nil {
		return err
	}
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", common.ErrIO, path, err)
	}
	return nil
}

type copyResult struct {
	n   int64
	err error
}

// copyAbandonable runs copyContext in its own goroutine and returns when
// either the copy finishes or ctx is done, whichever comes first. A Read that
// never returns cannot hold the caller past ctx: the goroutine is left behind
// and exits on its next Read or Write, which fails once the caller has closed
// dst. src must not be used by the caller after an abandoned copy.
func copyAbandonable(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	done := make(chan copyResult, 1)
	go func() {
		n, err := copyContext(ctx, dst, src)
		done <- copyResult{n: n, err: err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		return 0, context.Cause(ctx)
	}
}

// copyContext copies src into dst, giving up as soon as ctx is done.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
