// Package models defines the hierarchy records persisted in the metadata store.
package models

import "time"

// Folder is a node of the virtual hierarchy mirrored by a directory on disk.
type Folder struct {
	ID   string
	Name string
	// VirtualPath is the user-facing path, "/" for the root.
	VirtualPath string
	// PhysicalPath is the absolute path of the mirrored directory.
	PhysicalPath string
	// ParentID is nil only for the root.
	ParentID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRoot reports whether f is the root of the hierarchy.
func (f *Folder) IsRoot() bool {
	return f.ParentID == nil
}

// Clone returns a copy of f that shares no pointers with it.
func (f *Folder) Clone() *Folder {
	c := *f
	if f.ParentID != nil {
		p := *f.ParentID
		c.ParentID = &p
	}
	return &c
}

// FolderContents is a folder together with its direct children.
type FolderContents struct {
	Folder     *Folder
	Subfolders []*Folder
	Files      []*File
}
