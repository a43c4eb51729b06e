package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/pathx"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/repomanager"
)

// RootName is the display name of the root folder.
const RootName = "Root"

// FolderService creates, relocates and deletes folders on disk and in the
// metadata store.
type FolderService struct {
	base
}

func NewFolderService(tx dbx.Transactor, rm repomanager.RepositoryManager, store Store, opts Options) *FolderService {
	return &FolderService{base: newBase(tx, rm, store, opts)}
}

// EnsureRoot returns the root folder, creating its record on first start.
// An existing root bound to a different storage root is refused.
func (s *FolderService) EnsureRoot(ctx context.Context) (*models.Folder, error) {
	repo := s.rm.Folders(s.tx.Conn())

	root, err := repo.GetRoot(ctx)
	if err == nil {
		if filepath.Clean(root.PhysicalPath) != filepath.Clean(s.store.Root()) {
			return nil, fmt.Errorf("%w: root folder is bound to %q, storage root is %q",
				common.ErrInvariantViolation, root.PhysicalPath, s.store.Root())
		}
		return root, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, metaErr(err)
	}

	now := s.now()
	root = &models.Folder{
		ID:           s.newID(),
		Name:         RootName,
		VirtualPath:  pathx.Root,
		PhysicalPath: s.store.Root(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Folders(tx).Create(ctx, root)
	})
	if errors.Is(err, common.ErrPathConflict) {
		// another instance created it first
		return repo.GetRoot(ctx)
	}
	if err != nil {
		return nil, metaErr(err)
	}

	s.log.Info(ctx, "root folder created", "id", root.ID, "physical_path", root.PhysicalPath)
	return root, nil
}

// Create makes a folder called name under parentID; an empty parentID means
// the root. The directory is created first; if the record cannot be written
// a directory made by this call is removed again.
func (s *FolderService) Create(ctx context.Context, parentID, name string) (folder *models.Folder, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("create_folder", start, err) }(time.Now())

	if err := pathx.ValidateName(name); err != nil {
		return nil, err
	}

	if parentID == "" {
		root, err := s.rm.Folders(s.tx.Conn()).GetRoot(ctx)
		if err != nil {
			return nil, metaErr(err)
		}
		parentID = root.ID
	}

	unlock, err := s.lockSubtrees(ctx, parentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	parent, err := s.rm.Folders(s.tx.Conn()).GetByID(ctx, parentID)
	if err != nil {
		return nil, metaErr(err)
	}
	if err := s.checkFree(ctx, parent.ID, name); err != nil {
		return nil, err
	}

	virtualPath, err := pathx.ChildVirtualPath(parent.VirtualPath, name)
	if err != nil {
		return nil, err
	}
	physicalPath, err := pathx.ChildPhysicalPath(parent.PhysicalPath, name)
	if err != nil {
		return nil, err
	}

	var created bool
	err = s.physical(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.store.EnsureDirectory(ctx, physicalPath)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	folder = &models.Folder{
		ID:           s.newID(),
		Name:         name,
		VirtualPath:  virtualPath,
		PhysicalPath: physicalPath,
		ParentID:     &parent.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Folders(tx).Create(ctx, folder)
	})
	if err != nil {
		err = metaErr(err)
		if !created {
			return nil, err
		}
		cerr := s.compensate(ctx, func(ctx context.Context) error {
			return s.store.RemoveDirectoryRecursive(ctx, physicalPath)
		})
		s.metrics.RecordCompensation("create_folder", cerr)
		if cerr != nil {
			return nil, s.fault(ctx, &common.ConsistencyFault{
				Op: "create_folder", NodeID: folder.ID, NewPath: physicalPath, Cause: err, CompensationErr: cerr,
			})
		}
		return nil, err
	}

	s.log.Info(ctx, "folder created", "id", folder.ID, "virtual_path", folder.VirtualPath)
	return folder, nil
}

func (s *FolderService) Get(ctx context.Context, id string) (*models.Folder, error) {
	f, err := s.rm.Folders(s.tx.Conn()).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	return f, nil
}

// GetByPath looks a folder up by virtual path. The path is normalized first,
// so "/a//b/" finds "/a/b".
func (s *FolderService) GetByPath(ctx context.Context, virtualPath string) (*models.Folder, error) {
	f, err := s.rm.Folders(s.tx.Conn()).GetByVirtualPath(ctx, pathx.NormalizeVirtual(virtualPath))
	if err != nil {
		return nil, metaErr(err)
	}
	return f, nil
}

// Roots lists the folders without a parent. The tree has a single root, so
// this is the root alone, or nothing before EnsureRoot has run.
func (s *FolderService) Roots(ctx context.Context) ([]*models.Folder, error) {
	root, err := s.rm.Folders(s.tx.Conn()).GetRoot(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return []*models.Folder{}, nil
	}
	if err != nil {
		return nil, metaErr(err)
	}
	return []*models.Folder{root}, nil
}

// Contents returns a folder with its direct subfolders and files, both in
// creation order.
func (s *FolderService) Contents(ctx context.Context, id string) (*models.FolderContents, error) {
	conn := s.tx.Conn()

	folder, err := s.rm.Folders(conn).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	subfolders, err := s.rm.Folders(conn).ChildrenOf(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	files, err := s.rm.Files(conn).FilesOf(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	for _, f := range files {
		if err := s.fillDownloadRef(f); err != nil {
			return nil, err
		}
	}

	if subfolders == nil {
		subfolders = []*models.Folder{}
	}
	if files == nil {
		files = []*models.File{}
	}
	return &models.FolderContents{Folder: folder, Subfolders: subfolders, Files: files}, nil
}

// Rename gives a folder a new name under the same parent.
func (s *FolderService) Rename(ctx context.Context, id, newName string) (folder *models.Folder, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("rename_folder", start, err) }(time.Now())

	if err := pathx.ValidateName(newName); err != nil {
		return nil, err
	}
	return s.relocate(ctx, "rename_folder", id, "", newName)
}

// Move re-parents a folder, keeping its name. Moving a folder under itself or
// one of its descendants fails with ErrCycle.
func (s *FolderService) Move(ctx context.Context, id, newParentID string) (folder *models.Folder, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("move_folder", start, err) }(time.Now())

	if newParentID == "" {
		return nil, fmt.Errorf("%w: destination folder is required", common.ErrNotFound)
	}
	return s.relocate(ctx, "move_folder", id, newParentID, "")
}

// Relocate moves and renames a folder as one operation. An empty newParentID
// keeps the parent and an empty newName keeps the name.
func (s *FolderService) Relocate(ctx context.Context, id, newParentID, newName string) (folder *models.Folder, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("relocate_folder", start, err) }(time.Now())

	if newName != "" {
		if err := pathx.ValidateName(newName); err != nil {
			return nil, err
		}
	}
	return s.relocate(ctx, "relocate_folder", id, newParentID, newName)
}

// cascade is the set of records rewritten by one relocation.
type cascade struct {
	folder  *models.Folder
	folders []*models.Folder
	files   []*models.File
}

func (c *cascade) size() int {
	return 1 + len(c.folders) + len(c.files)
}

type nodePaths struct {
	virtual  string
	physical string
}

// planCascade recomputes the paths of every folder and file below moved,
// which already carries its new paths. Paths are rebuilt by joining parent
// paths with names top-down, never by rewriting string prefixes.
func planCascade(moved *models.Folder, subtree []*models.Folder, files []*models.File) (*cascade, error) {
	paths := map[string]nodePaths{
		moved.ID: {virtual: moved.VirtualPath, physical: moved.PhysicalPath},
	}

	c := &cascade{folder: moved}
	for _, sub := range subtree {
		if sub.ParentID == nil {
			return nil, fmt.Errorf("%w: folder %s in subtree has no parent", common.ErrInvariantViolation, sub.ID)
		}
		parent, ok := paths[*sub.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: folder %s listed before its parent", common.ErrInvariantViolation, sub.ID)
		}
		v, err := pathx.ChildVirtualPath(parent.virtual, sub.Name)
		if err != nil {
			return nil, err
		}
		p, err := pathx.ChildPhysicalPath(parent.physical, sub.Name)
		if err != nil {
			return nil, err
		}
		next := sub.Clone()
		next.VirtualPath, next.PhysicalPath = v, p
		paths[next.ID] = nodePaths{virtual: v, physical: p}
		c.folders = append(c.folders, next)
	}

	for _, f := range files {
		parent, ok := paths[f.FolderID]
		if !ok {
			return nil, fmt.Errorf("%w: file %s is outside the moved subtree", common.ErrInvariantViolation, f.ID)
		}
		v, err := pathx.ChildVirtualPath(parent.virtual, f.Name)
		if err != nil {
			return nil, err
		}
		next := f.Clone()
		next.VirtualPath = v
		next.PhysicalPath = filepath.Join(parent.physical, filepath.Base(f.PhysicalPath))
		c.files = append(c.files, next)
	}
	return c, nil
}

// relocate implements rename and move: an empty newParentID keeps the
// parent, an empty newName keeps the name.
func (s *FolderService) relocate(ctx context.Context, op, id, newParentID, newName string) (*models.Folder, error) {
	folder, err := s.rm.Folders(s.tx.Conn()).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	if folder.IsRoot() {
		return nil, fmt.Errorf("%w: the root folder cannot be renamed or moved", common.ErrInvariantViolation)
	}

	unlock, err := s.lockSubtrees(ctx, folder.ID, *folder.ParentID, newParentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conn := s.tx.Conn()
	folders := s.rm.Folders(conn)

	// re-read under the lock
	folder, err = folders.GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	if folder.IsRoot() {
		return nil, fmt.Errorf("%w: the root folder cannot be renamed or moved", common.ErrInvariantViolation)
	}

	destID := *folder.ParentID
	if newParentID != "" {
		destID = newParentID
	}
	name := folder.Name
	if newName != "" {
		name = newName
	}

	if destID == folder.ID {
		return nil, fmt.Errorf("%w: a folder cannot be moved into itself", common.ErrCycle)
	}
	below, err := folders.IsAncestor(ctx, folder.ID, destID)
	if err != nil {
		return nil, metaErr(err)
	}
	if below {
		return nil, fmt.Errorf("%w: %s is a descendant of %s", common.ErrCycle, destID, folder.ID)
	}

	dest, err := folders.GetByID(ctx, destID)
	if err != nil {
		return nil, metaErr(err)
	}
	if dest.ID == *folder.ParentID && name == folder.Name {
		return folder, nil
	}
	if err := s.checkFree(ctx, dest.ID, name); err != nil {
		return nil, err
	}

	virtualPath, err := pathx.ChildVirtualPath(dest.VirtualPath, name)
	if err != nil {
		return nil, err
	}
	physicalPath, err := pathx.ChildPhysicalPath(dest.PhysicalPath, name)
	if err != nil {
		return nil, err
	}

	subtree, err := folders.SubtreeOf(ctx, folder.ID)
	if err != nil {
		return nil, metaErr(err)
	}
	files, err := s.rm.Files(conn).FilesUnder(ctx, folder.ID)
	if err != nil {
		return nil, metaErr(err)
	}

	now := s.now()
	moved := folder.Clone()
	moved.Name = name
	moved.ParentID = &dest.ID
	moved.VirtualPath = virtualPath
	moved.PhysicalPath = physicalPath
	moved.UpdatedAt = now

	plan, err := planCascade(moved, subtree, files)
	if err != nil {
		return nil, err
	}

	oldPhysical := folder.PhysicalPath
	err = s.physical(ctx, func(ctx context.Context) error {
		return s.store.RenameDirectory(ctx, oldPhysical, physicalPath)
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.rm.Folders(tx)
		if err := folderRepo.Update(ctx, plan.folder); err != nil {
			return err
		}
		for _, f := range plan.folders {
			f.UpdatedAt = now
			if err := folderRepo.Update(ctx, f); err != nil {
				return err
			}
		}
		fileRepo := s.rm.Files(tx)
		for _, f := range plan.files {
			f.UpdatedAt = now
			if err := fileRepo.Update(ctx, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = metaErr(err)
		cerr := s.compensate(ctx, func(ctx context.Context) error {
			return s.store.RenameDirectory(ctx, physicalPath, oldPhysical)
		})
		s.metrics.RecordCompensation(op, cerr)
		if cerr != nil {
			return nil, s.fault(ctx, &common.ConsistencyFault{
				Op: op, NodeID: folder.ID, OldPath: oldPhysical, NewPath: physicalPath, Cause: err, CompensationErr: cerr,
			})
		}
		return nil, err
	}

	s.metrics.RecordCascade(plan.size())
	s.log.Info(ctx, "folder relocated",
		"op", op,
		"id", folder.ID,
		"old_path", folder.VirtualPath,
		"new_path", moved.VirtualPath,
		"records", plan.size(),
	)
	return moved, nil
}

// Delete removes a folder with everything below it: first the directory,
// then file and folder records deepest first in one transaction. A removed
// directory cannot be brought back, so a metadata failure after it is a
// consistency fault.
func (s *FolderService) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("delete_folder", start, err) }(time.Now())

	folder, err := s.rm.Folders(s.tx.Conn()).GetByID(ctx, id)
	if err != nil {
		return metaErr(err)
	}
	if folder.IsRoot() {
		return fmt.Errorf("%w: the root folder cannot be deleted", common.ErrInvariantViolation)
	}

	unlock, err := s.lockSubtrees(ctx, folder.ID, *folder.ParentID)
	if err != nil {
		return err
	}
	defer unlock()

	folders := s.rm.Folders(s.tx.Conn())
	folder, err = folders.GetByID(ctx, id)
	if err != nil {
		return metaErr(err)
	}
	subtree, err := folders.SubtreeOf(ctx, folder.ID)
	if err != nil {
		return metaErr(err)
	}

	err = s.physical(ctx, func(ctx context.Context) error {
		return s.store.RemoveDirectoryRecursive(ctx, folder.PhysicalPath)
	})
	if err != nil {
		return err
	}

	// subtree is ordered parents first
	order := make([]string, 0, len(subtree)+1)
	for i := len(subtree) - 1; i >= 0; i-- {
		order = append(order, subtree[i].ID)
	}
	order = append(order, folder.ID)

	var removedFiles int64
	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.rm.Folders(tx)
		fileRepo := s.rm.Files(tx)
		for _, fid := range order {
			n, err := fileRepo.DeleteByFolder(ctx, fid)
			if err != nil {
				return err
			}
			removedFiles += n
			if err := folderRepo.Delete(ctx, fid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.fault(ctx, &common.ConsistencyFault{
			Op: "delete_folder", NodeID: folder.ID, OldPath: folder.PhysicalPath,
			Cause: metaErr(err), CompensationErr: errIrreversible,
		})
	}

	s.log.Info(ctx, "folder deleted",
		"id", folder.ID,
		"virtual_path", folder.VirtualPath,
		"folders", len(order),
		"files", removedFiles,
	)
	return nil
}
