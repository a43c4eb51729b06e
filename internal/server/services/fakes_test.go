package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/server/locker"
	"github.com/dmitrijs2005/vdrive/internal/server/metrics"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/folders"
	"github.com/dmitrijs2005/vdrive/internal/server/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// memDB is an in-memory metadata store shared by the fake repositories.
// It enforces the same uniqueness rules as the SQL schema.
type memDB struct {
	mu      sync.Mutex
	seq     int64
	folders map[string]memRow[models.Folder]
	files   map[string]memRow[models.File]

	// fail maps an operation name such as "folders.Create" to the error it
	// returns on its next call.
	fail map[string]error
}

type memRow[T any] struct {
	seq int64
	v   T
}

func newMemDB() *memDB {
	return &memDB{
		folders: map[string]memRow[models.Folder]{},
		files:   map[string]memRow[models.File]{},
		fail:    map[string]error{},
	}
}

func (db *memDB) failNext(op string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fail[op] = err
}

// takeFail must be called with mu held.
func (db *memDB) takeFail(op string) error {
	err, ok := db.fail[op]
	if !ok {
		return nil
	}
	delete(db.fail, op)
	return err
}

type memSnapshot struct {
	seq     int64
	folders map[string]memRow[models.Folder]
	files   map[string]memRow[models.File]
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memSnapshot{seq: db.seq, folders: maps.Clone(db.folders), files: maps.Clone(db.files)}
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.seq, db.folders, db.files = s.seq, s.folders, s.files
}

func (db *memDB) folderCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.folders)
}

func (db *memDB) fileCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.files)
}

func (db *memDB) allFolders() []*models.Folder {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*models.Folder, 0, len(db.folders))
	for _, r := range db.folders {
		out = append(out, r.v.Clone())
	}
	return out
}

func (db *memDB) allFiles() []*models.File {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*models.File, 0, len(db.files))
	for _, r := range db.files {
		out = append(out, r.v.Clone())
	}
	return out
}

// memTransactor gives every InTx call all-or-nothing semantics by restoring
// a snapshot when fn or the commit fails.
type memTransactor struct {
	db        *memDB
	commitErr error
}

func (t *memTransactor) InTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	snap := t.db.snapshot()
	err := fn(ctx, nil)
	if err == nil && t.commitErr != nil {
		err = fmt.Errorf("%w: commit: %w", common.ErrTransaction, t.commitErr)
		t.commitErr = nil
	}
	if err != nil {
		t.db.restore(snap)
	}
	return err
}

func (t *memTransactor) Conn() dbx.DBTX { return nil }

type memRepoManager struct {
	db *memDB
}

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepoManager) Folders(dbx.DBTX) folders.Repository          { return &memFolders{db: m.db} }
func (m *memRepoManager) Files(dbx.DBTX) files.Repository              { return &memFiles{db: m.db} }

type memFolders struct {
	db *memDB
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, common.ErrNotFound)
}

func (r *memFolders) Create(ctx context.Context, f *models.Folder) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("folders.Create"); err != nil {
		return err
	}
	if _, ok := r.db.folders[f.ID]; ok {
		return fmt.Errorf("insert folder: %w: id", common.ErrPathConflict)
	}
	for _, row := range r.db.folders {
		o := row.v
		switch {
		case o.VirtualPath == f.VirtualPath, o.PhysicalPath == f.PhysicalPath:
			return fmt.Errorf("insert folder: %w: path", common.ErrPathConflict)
		case o.ParentID == nil && f.ParentID == nil:
			return fmt.Errorf("insert folder: %w: single root", common.ErrPathConflict)
		}
	}
	if f.ParentID != nil {
		if _, ok := r.db.folders[*f.ParentID]; !ok {
			return notFound("parent", *f.ParentID)
		}
	}
	r.db.seq++
	r.db.folders[f.ID] = memRow[models.Folder]{seq: r.db.seq, v: *f.Clone()}
	return nil
}

func (r *memFolders) find(pred func(f *models.Folder) bool) []*models.Folder {
	rows := make([]memRow[models.Folder], 0)
	for _, row := range r.db.folders {
		if pred(&row.v) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b memRow[models.Folder]) int { return int(a.seq - b.seq) })
	out := make([]*models.Folder, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.v.Clone())
	}
	return out
}

func (r *memFolders) one(what string, pred func(f *models.Folder) bool) (*models.Folder, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("folders.Get"); err != nil {
		return nil, err
	}
	found := r.find(pred)
	if len(found) == 0 {
		return nil, notFound("folder", what)
	}
	return found[0], nil
}

func (r *memFolders) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	return r.one(id, func(f *models.Folder) bool { return f.ID == id })
}

func (r *memFolders) GetRoot(ctx context.Context) (*models.Folder, error) {
	return r.one("root", func(f *models.Folder) bool { return f.ParentID == nil })
}

func (r *memFolders) GetByVirtualPath(ctx context.Context, virtualPath string) (*models.Folder, error) {
	return r.one(virtualPath, func(f *models.Folder) bool { return f.VirtualPath == virtualPath })
}

func (r *memFolders) ChildByName(ctx context.Context, parentID, name string) (*models.Folder, error) {
	return r.one(name, func(f *models.Folder) bool {
		return f.ParentID != nil && *f.ParentID == parentID && f.Name == name
	})
}

func (r *memFolders) ChildrenOf(ctx context.Context, parentID string) ([]*models.Folder, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.find(func(f *models.Folder) bool { return f.ParentID != nil && *f.ParentID == parentID }), nil
}

// SubtreeOf walks breadth first, so parents always precede their children.
func (r *memFolders) SubtreeOf(ctx context.Context, id string) ([]*models.Folder, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("folders.SubtreeOf"); err != nil {
		return nil, err
	}
	var out []*models.Folder
	level := []string{id}
	for len(level) > 0 {
		var next []string
		for _, pid := range level {
			for _, c := range r.find(func(f *models.Folder) bool { return f.ParentID != nil && *f.ParentID == pid }) {
				out = append(out, c)
				next = append(next, c.ID)
			}
		}
		level = next
	}
	return out, nil
}

func (r *memFolders) AncestorsOf(ctx context.Context, id string) ([]*models.Folder, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var chain []*models.Folder
	cur, ok := r.db.folders[id]
	if !ok {
		return nil, notFound("folder", id)
	}
	for {
		chain = append(chain, cur.v.Clone())
		if cur.v.ParentID == nil {
			break
		}
		cur = r.db.folders[*cur.v.ParentID]
	}
	slices.Reverse(chain)
	return chain, nil
}

func (r *memFolders) IsAncestor(ctx context.Context, candidate, id string) (bool, error) {
	chain, err := r.AncestorsOf(ctx, id)
	if err != nil {
		return false, nil
	}
	for _, f := range chain[:len(chain)-1] {
		if f.ID == candidate {
			return true, nil
		}
	}
	return false, nil
}

func (r *memFolders) Update(ctx context.Context, f *models.Folder) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("folders.Update"); err != nil {
		return err
	}
	row, ok := r.db.folders[f.ID]
	if !ok {
		return notFound("folder", f.ID)
	}
	for id, other := range r.db.folders {
		if id == f.ID {
			continue
		}
		if other.v.VirtualPath == f.VirtualPath || other.v.PhysicalPath == f.PhysicalPath {
			return fmt.Errorf("update folder: %w", common.ErrPathConflict)
		}
	}
	row.v = *f.Clone()
	r.db.folders[f.ID] = row
	return nil
}

func (r *memFolders) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("folders.Delete"); err != nil {
		return err
	}
	if _, ok := r.db.folders[id]; !ok {
		return notFound("folder", id)
	}
	for _, row := range r.db.folders {
		if row.v.ParentID != nil && *row.v.ParentID == id {
			return fmt.Errorf("delete folder: %w: has children", common.ErrInvariantViolation)
		}
	}
	for _, row := range r.db.files {
		if row.v.FolderID == id {
			return fmt.Errorf("delete folder: %w: has files", common.ErrInvariantViolation)
		}
	}
	delete(r.db.folders, id)
	return nil
}

type memFiles struct {
	db *memDB
}

func (r *memFiles) find(pred func(f *models.File) bool) []*models.File {
	rows := make([]memRow[models.File], 0)
	for _, row := range r.db.files {
		if pred(&row.v) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b memRow[models.File]) int { return int(a.seq - b.seq) })
	out := make([]*models.File, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.v.Clone())
	}
	return out
}

func (r *memFiles) Create(ctx context.Context, f *models.File) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("files.Create"); err != nil {
		return err
	}
	if _, ok := r.db.folders[f.FolderID]; !ok {
		return notFound("folder", f.FolderID)
	}
	for _, row := range r.db.files {
		if row.v.VirtualPath == f.VirtualPath || row.v.PhysicalPath == f.PhysicalPath {
			return fmt.Errorf("insert file: %w", common.ErrPathConflict)
		}
	}
	r.db.seq++
	r.db.files[f.ID] = memRow[models.File]{seq: r.db.seq, v: *f.Clone()}
	return nil
}

func (r *memFiles) GetByID(ctx context.Context, id string) (*models.File, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	row, ok := r.db.files[id]
	if !ok {
		return nil, notFound("file", id)
	}
	return row.v.Clone(), nil
}

func (r *memFiles) GetByName(ctx context.Context, folderID, name string) (*models.File, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	found := r.find(func(f *models.File) bool { return f.FolderID == folderID && f.Name == name })
	if len(found) == 0 {
		return nil, notFound("file", name)
	}
	return found[0], nil
}

func (r *memFiles) FilesOf(ctx context.Context, folderID string) ([]*models.File, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.find(func(f *models.File) bool { return f.FolderID == folderID }), nil
}

func (r *memFiles) FilesUnder(ctx context.Context, folderID string) ([]*models.File, error) {
	subtree, err := (&memFolders{db: r.db}).SubtreeOf(ctx, folderID)
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{folderID: true}
	for _, f := range subtree {
		ids[f.ID] = true
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.find(func(f *models.File) bool { return ids[f.FolderID] }), nil
}

func (r *memFiles) Update(ctx context.Context, f *models.File) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("files.Update"); err != nil {
		return err
	}
	row, ok := r.db.files[f.ID]
	if !ok {
		return notFound("file", f.ID)
	}
	for id, other := range r.db.files {
		if id != f.ID && (other.v.VirtualPath == f.VirtualPath || other.v.PhysicalPath == f.PhysicalPath) {
			return fmt.Errorf("update file: %w", common.ErrPathConflict)
		}
	}
	row.v = *f.Clone()
	r.db.files[f.ID] = row
	return nil
}

func (r *memFiles) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("files.Delete"); err != nil {
		return err
	}
	if _, ok := r.db.files[id]; !ok {
		return notFound("file", id)
	}
	delete(r.db.files, id)
	return nil
}

func (r *memFiles) DeleteByFolder(ctx context.Context, folderID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.takeFail("files.DeleteByFolder"); err != nil {
		return 0, err
	}
	var n int64
	for id, row := range r.db.files {
		if row.v.FolderID == folderID {
			delete(r.db.files, id)
			n++
		}
	}
	return n, nil
}

// hookStore wraps a real store and lets a test fail individual calls.
type hookStore struct {
	Store

	renameDir  func(oldPath, newPath string) error
	removeDir  func(path string) error
	moveFile   func(oldPath, newPath string) error
	removeFile func(path string) error

	// stallRename makes RenameDirectory hang until its context is done.
	stallRename bool
}

func (h *hookStore) RenameDirectory(ctx context.Context, oldPath, newPath string) error {
	if h.stallRename {
		<-ctx.Done()
		return ctx.Err()
	}
	if h.renameDir != nil {
		if err := h.renameDir(oldPath, newPath); err != nil {
			return err
		}
	}
	return h.Store.RenameDirectory(ctx, oldPath, newPath)
}

func (h *hookStore) RemoveDirectoryRecursive(ctx context.Context, path string) error {
	if h.removeDir != nil {
		if err := h.removeDir(path); err != nil {
			return err
		}
	}
	return h.Store.RemoveDirectoryRecursive(ctx, path)
}

func (h *hookStore) MoveFile(ctx context.Context, oldPath, newPath string) error {
	if h.moveFile != nil {
		if err := h.moveFile(oldPath, newPath); err != nil {
			return err
		}
	}
	return h.Store.MoveFile(ctx, oldPath, newPath)
}

func (h *hookStore) RemoveFile(ctx context.Context, path string) error {
	if h.removeFile != nil {
		if err := h.removeFile(path); err != nil {
			return err
		}
	}
	return h.Store.RemoveFile(ctx, path)
}

func (h *hookStore) WriteFile(ctx context.Context, path string, r io.Reader) (int64, error) {
	return h.Store.WriteFile(ctx, path, r)
}

// env is a complete pair of synchronizers over a temp directory.
type env struct {
	db      *memDB
	tx      *memTransactor
	store   *hookStore
	reg     *prometheus.Registry
	locks   *locker.Locker
	root    *models.Folder
	folders *FolderService
	files   *FileService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, nil)
}

// newEnvWith is newEnv with a chance to adjust the service options.
func newEnvWith(t *testing.T, configure func(*Options)) *env {
	t.Helper()

	local, err := storage.New(storage.Config{Root: t.TempDir()})
	require.NoError(t, err)

	db := newMemDB()
	reg := prometheus.NewRegistry()
	e := &env{
		db:    db,
		tx:    &memTransactor{db: db},
		store: &hookStore{Store: local},
		reg:   reg,
		locks: locker.New(),
	}
	rm := &memRepoManager{db: db}
	opts := Options{Locks: e.locks, Metrics: metrics.New(reg)}
	if configure != nil {
		configure(&opts)
	}
	e.folders = NewFolderService(e.tx, rm, e.store, opts)
	e.files = NewFileService(e.tx, rm, e.store, opts)

	e.root, err = e.folders.EnsureRoot(context.Background())
	require.NoError(t, err)
	return e
}

// requireConsistent checks the path invariants of every record against its
// parent and against the disk.
func (e *env) requireConsistent(t *testing.T) {
	t.Helper()

	byID := map[string]*models.Folder{}
	for _, f := range e.db.allFolders() {
		byID[f.ID] = f
	}
	for _, f := range byID {
		require.DirExists(t, f.PhysicalPath, f.VirtualPath)
		if f.IsRoot() {
			require.Equal(t, "/", f.VirtualPath)
			require.Equal(t, e.store.Root(), f.PhysicalPath)
			continue
		}
		parent, ok := byID[*f.ParentID]
		require.True(t, ok, "parent of %s", f.VirtualPath)
		require.Equal(t, path.Join(parent.VirtualPath, f.Name), f.VirtualPath)
		require.Equal(t, filepath.Join(parent.PhysicalPath, f.Name), f.PhysicalPath)
	}
	for _, f := range e.db.allFiles() {
		folder, ok := byID[f.FolderID]
		require.True(t, ok, "folder of %s", f.VirtualPath)
		require.Equal(t, path.Join(folder.VirtualPath, f.Name), f.VirtualPath)
		require.Equal(t, folder.PhysicalPath, filepath.Dir(f.PhysicalPath))
		require.FileExists(t, f.PhysicalPath, f.VirtualPath)
	}
}
