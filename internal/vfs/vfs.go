// Package vfs defines the storage capability contract shared by the native
// and relational backings, the root configuration that scopes virtual paths,
// and the ordinal filename format used for sibling ordering.
package vfs

import (
	"context"
	"time"
)

// FS is the capability contract both backings implement. Paths are absolute
// virtual paths; each call resolves its path against the configured roots
// first and fails with ErrNoRootFound when none matches.
type FS interface {
	// Exists reports whether path resolves to an entry. It never fails.
	Exists(ctx context.Context, path string) bool

	// Stat describes the entry at path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// ReadFile returns the whole content of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates or replaces a file.
	WriteFile(ctx context.Context, path string, data []byte) error

	// Readdir returns child names in ascending ordinal order.
	Readdir(ctx context.Context, path string) ([]string, error)

	// Mkdir creates a directory.
	Mkdir(ctx context.Context, path string, opts MkdirOptions) error

	// Rename moves an entry within one root.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Unlink removes a file.
	Unlink(ctx context.Context, path string) error

	// Rm removes a file or, with Recursive or Force, a directory tree.
	Rm(ctx context.Context, path string, opts RmOptions) error
}

// Transactional is implemented by backings that can group calls into one
// unit of work. fn receives a view of the backing whose calls are applied
// together or not at all.
type Transactional interface {
	FS
	Atomic(ctx context.Context, fn func(FS) error) error
}

// FileInfo describes an entry.
type FileInfo struct {
	IsDirectory  bool
	IsFile       bool
	CreatedTime  time.Time
	ModifiedTime time.Time
	SizeBytes    int64
}

// MkdirOptions controls Mkdir.
type MkdirOptions struct {
	Recursive bool
}

// RmOptions controls Rm.
type RmOptions struct {
	Recursive bool
	Force     bool
}

// StorageType names a backing.
type StorageType string

const (
	StorageNative     StorageType = "native"
	StorageRelational StorageType = "relational"
)

// Valid reports whether t is a known backing type.
func (t StorageType) Valid() bool {
	return t == StorageNative || t == StorageRelational
}
