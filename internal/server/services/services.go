// Package services holds the synchronizers that keep the folder tree on disk
// and its metadata in the store in step.
//
// Every mutation follows the same order: validate, lock the affected
// subtrees, change the disk, then write metadata in one transaction. When the
// metadata step fails the disk change is reversed; when the reversal fails
// too the caller gets a *common.ConsistencyFault.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/logging"
	"github.com/dmitrijs2005/vdrive/internal/pathx"
	"github.com/dmitrijs2005/vdrive/internal/server/locker"
	"github.com/dmitrijs2005/vdrive/internal/server/metrics"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// Store is the physical side of the hierarchy. *storage.Local implements it.
type Store interface {
	Root() string
	EnsureDirectory(ctx context.Context, path string) (bool, error)
	RenameDirectory(ctx context.Context, oldPath, newPath string) error
	MoveFile(ctx context.Context, oldPath, newPath string) error
	RemoveDirectoryRecursive(ctx context.Context, path string) error
	WriteFile(ctx context.Context, path string, r io.Reader) (int64, error)
	RemoveFile(ctx context.Context, path string) error
}

// Options carries the collaborators shared by both synchronizers.
// Zero values get usable defaults.
type Options struct {
	IOTimeout time.Duration
	Locks     *locker.Locker
	Logger    logging.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
	NewID     func() string
}

// WithLogger returns a copy of o logging to l.
func (o Options) WithLogger(l logging.Logger) Options {
	o.Logger = l
	return o
}

const (
	defaultIOTimeout  = 30 * time.Second
	compensateTimeout = 30 * time.Second
)

// errIrreversible is the compensation error of a physical delete.
var errIrreversible = errors.New("physical delete cannot be undone")

type base struct {
	tx        dbx.Transactor
	rm        repomanager.RepositoryManager
	store     Store
	locks     *locker.Locker
	log       logging.Logger
	metrics   *metrics.Metrics
	ioTimeout time.Duration
	now       func() time.Time
	newID     func() string
}

func newBase(tx dbx.Transactor, rm repomanager.RepositoryManager, store Store, opts Options) base {
	b := base{
		tx:        tx,
		rm:        rm,
		store:     store,
		locks:     opts.Locks,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		ioTimeout: opts.IOTimeout,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if b.locks == nil {
		b.locks = locker.New()
	}
	if b.log == nil {
		b.log = logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	}
	if b.ioTimeout <= 0 {
		b.ioTimeout = defaultIOTimeout
	}
	if b.now == nil {
		b.now = func() time.Time { return time.Now().UTC() }
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	return b
}

// physical runs one disk step under the configured I/O timeout.
func (b *base) physical(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		if !common.IsKnown(err) {
			return fmt.Errorf("%w: %w", common.ErrIO, err)
		}
		return err
	}
	return nil
}

// DownloadRef returns the download reference of f, derived from its
// physical path.
func (b *base) DownloadRef(f *models.File) (string, error) {
	return pathx.DownloadRef(b.store.Root(), f.PhysicalPath)
}

func (b *base) fillDownloadRef(f *models.File) error {
	ref, err := b.DownloadRef(f)
	if err != nil {
		return err
	}
	f.DownloadRef = ref
	return nil
}

// compensate reverses a disk step after a metadata failure. It runs even when
// the caller's context is already done.
func (b *base) compensate(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	return fn(ctx)
}

// fault records a failed compensation and returns the error for the caller.
func (b *base) fault(ctx context.Context, f *common.ConsistencyFault) error {
	b.metrics.RecordConsistencyFault(f.Op)
	b.log.Error(ctx, "consistency fault: disk and metadata disagree",
		"op", f.Op,
		"node_id", f.NodeID,
		"old_path", f.OldPath,
		"new_path", f.NewPath,
		"error", f.Cause,
		"compensation_error", f.CompensationErr,
	)
	return f
}

// metaErr makes sure a metadata failure carries a taxonomy kind.
func metaErr(err error) error {
	if err == nil || common.IsKnown(err) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrTransaction, err)
}

// checkFree fails with ErrPathConflict when parentID already has a subfolder
// or a file called name.
func (b *base) checkFree(ctx context.Context, parentID, name string) error {
	conn := b.tx.Conn()

	_, err := b.rm.Folders(conn).ChildByName(ctx, parentID, name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: a folder named %q already exists here", common.ErrPathConflict, name)
	case !errors.Is(err, common.ErrNotFound):
		return metaErr(err)
	}

	_, err = b.rm.Files(conn).GetByName(ctx, parentID, name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: a file named %q already exists here", common.ErrPathConflict, name)
	case !errors.Is(err, common.ErrNotFound):
		return metaErr(err)
	}
	return nil
}

// lockKey returns the key serializing work under folderID: the id of its
// top-level ancestor, or the root id for the root itself.
func (b *base) lockKey(ctx context.Context, folderID string) (string, error) {
	chain, err := b.rm.Folders(b.tx.Conn()).AncestorsOf(ctx, folderID)
	if err != nil {
		return "", metaErr(err)
	}
	return chain[min(1, len(chain)-1)].ID, nil
}

func (b *base) lockKeys(ctx context.Context, folderIDs []string) ([]string, error) {
	keys := make([]string, 0, len(folderIDs))
	for _, id := range folderIDs {
		if id == "" {
			continue
		}
		k, err := b.lockKey(ctx, id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// lockSubtrees locks the subtrees holding folderIDs. A concurrent move can
// change a folder's top-level ancestor while we wait, so the keys are
// computed again once held and the acquisition is retried if they moved.
func (b *base) lockSubtrees(ctx context.Context, folderIDs ...string) (func(), error) {
	for {
		keys, err := b.lockKeys(ctx, folderIDs)
		if err != nil {
			return nil, err
		}
		unlock, err := b.locks.Lock(ctx, keys...)
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for subtree lock: %w", common.ErrIO, err)
		}
		again, err := b.lockKeys(ctx, folderIDs)
		if err != nil {
			unlock()
			return nil, err
		}
		if slices.Equal(keys, again) {
			return unlock, nil
		}
		unlock()
	}
}
