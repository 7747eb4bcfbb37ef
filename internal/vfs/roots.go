package vfs

import (
	"fmt"
	"strings"
)

// Root maps a short key to a base path and a backing.
type Root struct {
	Key      string
	BasePath string
	Type     StorageType
}

// Abs returns the absolute virtual path of a root-relative path.
func (r Root) Abs(rel string) string {
	if r.BasePath == "/" {
		if rel == "" {
			return "/"
		}
		return rel
	}
	return r.BasePath + rel
}

// relative returns the root-relative form of abs and whether abs lies in r.
func (r Root) relative(abs string) (string, bool) {
	if r.BasePath == "/" {
		if abs == "/" {
			return "", true
		}
		return abs, true
	}
	if abs == r.BasePath {
		return "", true
	}
	if strings.HasPrefix(abs, r.BasePath+"/") {
		return abs[len(r.BasePath):], true
	}
	return "", false
}

// Location is a fully resolved path: the root it belongs to, its
// root-relative form, and that form split into parent and filename.
type Location struct {
	Root     Root
	Rel      string
	Parent   string
	Filename string
}

// IsRoot reports whether the location is the root directory itself.
func (l Location) IsRoot() bool {
	return l.Rel == ""
}

// Abs returns the absolute virtual path of the location.
func (l Location) Abs() string {
	return l.Root.Abs(l.Rel)
}

// Roots is the immutable, ordered root configuration.
type Roots struct {
	list  []Root
	byKey map[string]Root
}

// NewRoots validates and freezes a root configuration. Order is kept: path
// lookups return the first matching root.
func NewRoots(roots []Root) (*Roots, error) {
	r := &Roots{byKey: make(map[string]Root, len(roots))}
	for _, root := range roots {
		if root.Key == "" {
			return nil, fmt.Errorf("root with empty key")
		}
		if _, dup := r.byKey[root.Key]; dup {
			return nil, fmt.Errorf("duplicate root key %q", root.Key)
		}
		if !strings.HasPrefix(strings.ReplaceAll(root.BasePath, "\\", "/"), "/") {
			return nil, fmt.Errorf("root %q: base path %q is not absolute", root.Key, root.BasePath)
		}
		if !root.Type.Valid() {
			return nil, fmt.Errorf("root %q: unknown storage type %q", root.Key, root.Type)
		}
		root.BasePath = Normalize(root.BasePath)
		r.list = append(r.list, root)
		r.byKey[root.Key] = root
	}
	return r, nil
}

// All returns a copy of the configured roots in order.
func (r *Roots) All() []Root {
	out := make([]Root, len(r.list))
	copy(out, r.list)
	return out
}

// ByKey looks a root up by key.
func (r *Roots) ByKey(key string) (Root, bool) {
	root, ok := r.byKey[key]
	return root, ok
}

// Resolve maps an absolute path to the first root containing it.
func (r *Roots) Resolve(abs string) (Location, error) {
	return r.resolve(abs, "")
}

// ResolveType is Resolve restricted to roots of one backing type.
func (r *Roots) ResolveType(abs string, t StorageType) (Location, error) {
	return r.resolve(abs, t)
}

func (r *Roots) resolve(abs string, t StorageType) (Location, error) {
	abs = Normalize(abs)
	for _, root := range r.list {
		if t != "" && root.Type != t {
			continue
		}
		if rel, ok := root.relative(abs); ok {
			parent, name := Split(rel)
			return Location{Root: root, Rel: rel, Parent: parent, Filename: name}, nil
		}
	}
	return Location{}, PathErr("resolve", abs, ErrNoRootFound)
}

// ResolveIn resolves abs and requires it to belong to the root named key.
func (r *Roots) ResolveIn(key, abs string) (Location, error) {
	root, ok := r.byKey[key]
	if !ok {
		return Location{}, PathErr("resolve", key, ErrNoRootFound)
	}
	abs = Normalize(abs)
	rel, ok := root.relative(abs)
	if !ok {
		if _, err := r.Resolve(abs); err != nil {
			return Location{}, err
		}
		return Location{}, PathErr("resolve", abs, ErrCrossRoot)
	}
	parent, name := Split(rel)
	return Location{Root: root, Rel: rel, Parent: parent, Filename: name}, nil
}
