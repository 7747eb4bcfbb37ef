package vfs

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fruitsalade/doctree/internal/db"
)

var (
	ErrNotFound         = fs.ErrNotExist
	ErrAlreadyExists    = fs.ErrExist
	ErrNoRootFound      = errors.New("no root found")
	ErrCrossRoot        = errors.New("endpoints resolve to different roots")
	ErrIsDirectory      = errors.New("is a directory")
	ErrNotDirectory     = errors.New("not a directory")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrNotImplemented   = errors.New("not implemented")
	ErrTransaction      = db.ErrTransaction
)

// PathErr returns a *fs.PathError so callers can match err with errors.Is
// and still see which call and path failed.
func PathErr(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// notDirectory matches both ErrNotDirectory and ErrNotFound: listing a file
// is a lookup miss for a directory.
var notDirectory = fmt.Errorf("%w: %w", ErrNotDirectory, ErrNotFound)

// NotDirectoryErr is the error Readdir returns when path names a file.
func NotDirectoryErr(op, path string) error {
	return PathErr(op, path, notDirectory)
}
