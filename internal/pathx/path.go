// Package pathx computes the virtual and physical paths of hierarchy nodes.
//
// Everything here is pure: no function touches the disk, so the synchronizers
// can detect bad names and bad paths before mutating any state.
package pathx

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/vdrive/internal/common"
	"github.com/google/uuid"
)

// Root is the virtual path of the root folder.
const Root = "/"

// MaxNameLength is the longest name, in bytes, most filesystems accept for a
// single path component.
const MaxNameLength = 255

// DownloadPrefix prefixes every download reference handed to the transport layer.
const DownloadPrefix = "/files/"

// ValidateName checks that name can be used as a single path segment on both
// the virtual and the physical side.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", common.ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is a reserved segment", common.ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("%w: %q contains a path separator", common.ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name contains a NUL byte", common.ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name is longer than %d bytes", common.ErrInvalidName, MaxNameLength)
	}
	return nil
}

// NormalizeVirtual returns the canonical form of a virtual path: a leading
// slash, no duplicate separators and no trailing slash (except for the root).
func NormalizeVirtual(p string) string {
	if p == "" {
		return Root
	}
	return path.Clean(Root + p)
}

// ChildVirtualPath joins a parent virtual path and a child name.
func ChildVirtualPath(parentVirtualPath, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return path.Join(NormalizeVirtual(parentVirtualPath), name), nil
}

// ChildPhysicalPath joins a parent physical path and a child name.
func ChildPhysicalPath(parentPhysicalPath, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if parentPhysicalPath == "" {
		return "", fmt.Errorf("%w: parent physical path is empty", common.ErrInvariantViolation)
	}
	return filepath.Join(filepath.Clean(parentPhysicalPath), name), nil
}

// Ext returns the extension of a display name, keeping the leading dot.
// Dotfiles such as ".bashrc" and names ending with a bare dot have none.
func Ext(name string) string {
	ext := filepath.Ext(name)
	if ext == name || ext == "." {
		return ""
	}
	return ext
}

// GeneratedFileName returns a globally unique physical base name for a file
// whose display name is name. Only the extension of name survives.
func GeneratedFileName(name string) string {
	return uuid.NewString() + Ext(name)
}

// Within reports whether p is root itself or lies below it.
func Within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// DownloadRef derives a stable download reference from a physical path: the
// path relative to the storage root, slash separated, under DownloadPrefix.
func DownloadRef(storageRoot, physicalPath string) (string, error) {
	if !Within(storageRoot, physicalPath) {
		return "", fmt.Errorf("%w: %q is outside storage root %q", common.ErrInvariantViolation, physicalPath, storageRoot)
	}
	rel, err := filepath.Rel(filepath.Clean(storageRoot), filepath.Clean(physicalPath))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvariantViolation, err)
	}
	if rel == "." {
		return DownloadPrefix, nil
	}
	return DownloadPrefix + filepath.ToSlash(rel), nil
}
