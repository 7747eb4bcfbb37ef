package vfs

import (
	"path"
	"strings"
)

// Normalize returns the canonical absolute form of p: forward slashes,
// no "." or ".." elements, no duplicate or trailing slash.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Split decomposes a root-relative path into its parent and final segment.
// Top-level entries have parent "". The root itself ("") has no filename.
func Split(rel string) (parent, filename string) {
	if rel == "" {
		return "", ""
	}
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return "", rel
	}
	return rel[:i], rel[i+1:]
}

// Join appends a child name to a root-relative parent path.
func Join(parent, name string) string {
	return parent + "/" + name
}

// IsWithin reports whether rel equals dir or lies below it.
func IsWithin(rel, dir string) bool {
	if dir == "" {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

// Entries named with TempName are scratch space: listings and searches
// skip them.
const (
	tempPrefix = ".doctree-"
	tempSuffix = ".tmp"
)

// TempName returns a scratch name derived from name.
func TempName(name string) string {
	return tempPrefix + name + tempSuffix
}

// IsTemp reports whether name is a scratch name.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}
