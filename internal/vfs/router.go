package vfs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/logging"
)

// Router is an FS that resolves every path to its root and dispatches to the
// backing registered for that root's storage type. Callers hold a Router and
// never branch on backing type.
type Router struct {
	mu       sync.RWMutex
	roots    *Roots
	backings map[StorageType]FS
}

// NewRouter creates a Router over roots with no backings registered.
func NewRouter(roots *Roots) *Router {
	return &Router{
		roots:    roots,
		backings: make(map[StorageType]FS),
	}
}

// Register installs the backing serving every root of type t.
func (r *Router) Register(t StorageType, backing FS) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backings[t] = backing
	logging.Info("vfs backing registered", zap.String("type", string(t)))
}

// Roots returns the root configuration the router resolves against.
func (r *Router) Roots() *Roots {
	return r.roots
}

// Backing returns the backing that serves the root named key.
func (r *Router) Backing(key string) (FS, Root, error) {
	root, ok := r.roots.ByKey(key)
	if !ok {
		return nil, Root{}, PathErr("resolve", key, ErrNoRootFound)
	}
	b, err := r.backingFor(root)
	return b, root, err
}

func (r *Router) backingFor(root Root) (FS, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backings[root.Type]
	if !ok {
		return nil, fmt.Errorf("root %q: %w: no %s backing registered", root.Key, ErrNotImplemented, root.Type)
	}
	return b, nil
}

func (r *Router) route(path string) (FS, error) {
	loc, err := r.roots.Resolve(path)
	if err != nil {
		return nil, err
	}
	return r.backingFor(loc.Root)
}

// Exists implements FS.
func (r *Router) Exists(ctx context.Context, path string) bool {
	b, err := r.route(path)
	if err != nil {
		return false
	}
	return b.Exists(ctx, path)
}

// Stat implements FS.
func (r *Router) Stat(ctx context.Context, path string) (FileInfo, error) {
	b, err := r.route(path)
	if err != nil {
		return FileInfo{}, err
	}
	return b.Stat(ctx, path)
}

// ReadFile implements FS.
func (r *Router) ReadFile(ctx context.Context, path string) ([]byte, error) {
	b, err := r.route(path)
	if err != nil {
		return nil, err
	}
	return b.ReadFile(ctx, path)
}

// WriteFile implements FS.
func (r *Router) WriteFile(ctx context.Context, path string, data []byte) error {
	b, err := r.route(path)
	if err != nil {
		return err
	}
	return b.WriteFile(ctx, path, data)
}

// Readdir implements FS.
func (r *Router) Readdir(ctx context.Context, path string) ([]string, error) {
	b, err := r.route(path)
	if err != nil {
		return nil, err
	}
	return b.Readdir(ctx, path)
}

// Mkdir implements FS.
func (r *Router) Mkdir(ctx context.Context, path string, opts MkdirOptions) error {
	b, err := r.route(path)
	if err != nil {
		return err
	}
	return b.Mkdir(ctx, path, opts)
}

// Rename implements FS. Both endpoints must resolve to the same root.
func (r *Router) Rename(ctx context.Context, oldPath, newPath string) error {
	from, err := r.roots.Resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := r.roots.Resolve(newPath)
	if err != nil {
		return err
	}
	if from.Root.Key != to.Root.Key {
		return PathErr("rename", newPath, ErrCrossRoot)
	}
	b, err := r.backingFor(from.Root)
	if err != nil {
		return err
	}
	return b.Rename(ctx, oldPath, newPath)
}

// Unlink implements FS.
func (r *Router) Unlink(ctx context.Context, path string) error {
	b, err := r.route(path)
	if err != nil {
		return err
	}
	return b.Unlink(ctx, path)
}

// Rm implements FS.
func (r *Router) Rm(ctx context.Context, path string, opts RmOptions) error {
	b, err := r.route(path)
	if err != nil {
		return err
	}
	return b.Rm(ctx, path, opts)
}
