package models

import "time"

// File is a leaf of the hierarchy backed by a file on disk.
type File struct {
	ID        string
	Name      string
	MimeType  string
	SizeBytes int64
	// VirtualPath is the owning folder's virtual path joined with Name.
	VirtualPath string
	// PhysicalPath is the owning folder's directory joined with a generated
	// base name; the base name never changes.
	PhysicalPath string
	FolderID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// DownloadRef is derived from PhysicalPath and never persisted.
	DownloadRef string
}

// Clone returns a copy of f.
func (f *File) Clone() *File {
	c := *f
	return &c
}
