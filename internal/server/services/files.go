package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/dmitrijs2005/vdrive/internal/dbx"
	"github.com/dmitrijs2005/vdrive/internal/pathx"
	"github.com/dmitrijs2005/vdrive/internal/server/models"
	"github.com/dmitrijs2005/vdrive/internal/server/repositories/repomanager"
	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is how much content is read to detect a MIME type.
const sniffLen = 3072

// FileService uploads, relocates and deletes files.
type FileService struct {
	base
}

func NewFileService(tx dbx.Transactor, rm repomanager.RepositoryManager, store Store, opts Options) *FileService {
	return &FileService{base: newBase(tx, rm, store, opts)}
}

// Upload stores the content of r as a file called name in folderID. The bytes
// go to disk under a generated name before the record is written; if the
// record cannot be written the bytes are removed again. An empty mimeType is
// detected from the content.
func (s *FileService) Upload(ctx context.Context, folderID, name, mimeType string, r io.Reader) (file *models.File, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("upload_file", start, err) }(time.Now())

	if err := pathx.ValidateName(name); err != nil {
		return nil, err
	}

	unlock, err := s.lockSubtrees(ctx, folderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	folder, err := s.rm.Folders(s.tx.Conn()).GetByID(ctx, folderID)
	if err != nil {
		return nil, metaErr(err)
	}
	if err := s.checkFree(ctx, folder.ID, name); err != nil {
		return nil, err
	}

	virtualPath, err := pathx.ChildVirtualPath(folder.VirtualPath, name)
	if err != nil {
		return nil, err
	}
	physicalPath, err := pathx.ChildPhysicalPath(folder.PhysicalPath, pathx.GeneratedFileName(name))
	if err != nil {
		return nil, err
	}

	// the type is detected from the bytes as they are written, so reading the
	// client stays inside the timed step
	var head *sniffBuffer
	if mimeType == "" {
		head = &sniffBuffer{}
		r = io.TeeReader(r, head)
	}

	var size int64
	err = s.physical(ctx, func(ctx context.Context) error {
		var err error
		size, err = s.store.WriteFile(ctx, physicalPath, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if head != nil {
		mimeType = mimetype.Detect(head.Bytes()).String()
	}

	now := s.now()
	file = &models.File{
		ID:           s.newID(),
		Name:         name,
		MimeType:     mimeType,
		SizeBytes:    size,
		VirtualPath:  virtualPath,
		PhysicalPath: physicalPath,
		FolderID:     folder.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Files(tx).Create(ctx, file)
	})
	if err != nil {
		err = metaErr(err)
		cerr := s.compensate(ctx, func(ctx context.Context) error {
			return s.store.RemoveFile(ctx, physicalPath)
		})
		s.metrics.RecordCompensation("upload_file", cerr)
		if cerr != nil {
			return nil, s.fault(ctx, &common.ConsistencyFault{
				Op: "upload_file", NodeID: file.ID, NewPath: physicalPath, Cause: err, CompensationErr: cerr,
			})
		}
		return nil, err
	}

	s.metrics.RecordUpload(size)
	s.log.Info(ctx, "file uploaded",
		"id", file.ID,
		"virtual_path", file.VirtualPath,
		"size", size,
		"mime_type", mimeType,
	)
	return file, s.fillDownloadRef(file)
}

// sniffBuffer keeps the first sniffLen bytes written to it and discards the
// rest.
type sniffBuffer struct {
	buf []byte
}

func (b *sniffBuffer) Write(p []byte) (int, error) {
	if room := sniffLen - len(b.buf); room > 0 {
		b.buf = append(b.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

func (b *sniffBuffer) Bytes() []byte { return b.buf }

func (s *FileService) Get(ctx context.Context, id string) (*models.File, error) {
	f, err := s.rm.Files(s.tx.Conn()).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	return f, s.fillDownloadRef(f)
}

// Rename changes the display name of a file. Only the virtual path changes;
// the bytes stay where they are.
func (s *FileService) Rename(ctx context.Context, id, newName string) (file *models.File, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("rename_file", start, err) }(time.Now())

	if err := pathx.ValidateName(newName); err != nil {
		return nil, err
	}

	file, err = s.rm.Files(s.tx.Conn()).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}

	unlock, err := s.lockSubtrees(ctx, file.FolderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conn := s.tx.Conn()
	file, err = s.rm.Files(conn).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	if file.Name == newName {
		return file, s.fillDownloadRef(file)
	}
	folder, err := s.rm.Folders(conn).GetByID(ctx, file.FolderID)
	if err != nil {
		return nil, metaErr(err)
	}
	if err := s.checkFree(ctx, folder.ID, newName); err != nil {
		return nil, err
	}

	virtualPath, err := pathx.ChildVirtualPath(folder.VirtualPath, newName)
	if err != nil {
		return nil, err
	}

	renamed := file.Clone()
	renamed.Name = newName
	renamed.VirtualPath = virtualPath
	renamed.UpdatedAt = s.now()

	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Files(tx).Update(ctx, renamed)
	})
	if err != nil {
		return nil, metaErr(err)
	}

	s.log.Info(ctx, "file renamed", "id", id, "old_path", file.VirtualPath, "new_path", virtualPath)
	return renamed, s.fillDownloadRef(renamed)
}

// Move re-parents a file. The generated base name is kept and the bytes are
// relocated into the destination folder's directory, so deleting the old
// folder later cannot take them along.
func (s *FileService) Move(ctx context.Context, id, newFolderID string) (file *models.File, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("move_file", start, err) }(time.Now())

	file, err = s.rm.Files(s.tx.Conn()).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}

	unlock, err := s.lockSubtrees(ctx, file.FolderID, newFolderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	conn := s.tx.Conn()
	file, err = s.rm.Files(conn).GetByID(ctx, id)
	if err != nil {
		return nil, metaErr(err)
	}
	dest, err := s.rm.Folders(conn).GetByID(ctx, newFolderID)
	if err != nil {
		return nil, metaErr(err)
	}
	if dest.ID == file.FolderID {
		return file, s.fillDownloadRef(file)
	}
	if err := s.checkFree(ctx, dest.ID, file.Name); err != nil {
		return nil, err
	}

	virtualPath, err := pathx.ChildVirtualPath(dest.VirtualPath, file.Name)
	if err != nil {
		return nil, err
	}
	physicalPath, err := pathx.ChildPhysicalPath(dest.PhysicalPath, filepath.Base(file.PhysicalPath))
	if err != nil {
		return nil, err
	}

	oldPhysical := file.PhysicalPath
	err = s.physical(ctx, func(ctx context.Context) error {
		return s.store.MoveFile(ctx, oldPhysical, physicalPath)
	})
	if err != nil {
		return nil, err
	}

	moved := file.Clone()
	moved.FolderID = dest.ID
	moved.VirtualPath = virtualPath
	moved.PhysicalPath = physicalPath
	moved.UpdatedAt = s.now()

	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Files(tx).Update(ctx, moved)
	})
	if err != nil {
		err = metaErr(err)
		cerr := s.compensate(ctx, func(ctx context.Context) error {
			return s.store.MoveFile(ctx, physicalPath, oldPhysical)
		})
		s.metrics.RecordCompensation("move_file", cerr)
		if cerr != nil {
			return nil, s.fault(ctx, &common.ConsistencyFault{
				Op: "move_file", NodeID: file.ID, OldPath: oldPhysical, NewPath: physicalPath, Cause: err, CompensationErr: cerr,
			})
		}
		return nil, err
	}

	s.log.Info(ctx, "file moved", "id", id, "old_path", file.VirtualPath, "new_path", virtualPath)
	return moved, s.fillDownloadRef(moved)
}

// Delete removes the bytes of a file and then its record. It reports false,
// and no error, when there was no such file.
func (s *FileService) Delete(ctx context.Context, id string) (deleted bool, err error) {
	defer func(start time.Time) { s.metrics.RecordOperation("delete_file", start, err) }(time.Now())

	file, err := s.rm.Files(s.tx.Conn()).GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, metaErr(err)
	}

	unlock, err := s.lockSubtrees(ctx, file.FolderID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer unlock()

	file, err = s.rm.Files(s.tx.Conn()).GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, metaErr(err)
	}

	err = s.physical(ctx, func(ctx context.Context) error {
		return s.store.RemoveFile(ctx, file.PhysicalPath)
	})
	if err != nil {
		return false, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.rm.Files(tx).Delete(ctx, file.ID)
	})
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fault(ctx, &common.ConsistencyFault{
			Op: "delete_file", NodeID: file.ID, OldPath: file.PhysicalPath,
			Cause: metaErr(err), CompensationErr: errIrreversible,
		})
	}

	s.log.Info(ctx, "file deleted", "id", file.ID, "virtual_path", file.VirtualPath)
	return true, nil
}
