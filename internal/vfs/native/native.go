// Package native provides the pass-through VFS backing over a real
// filesystem. Virtual paths are real paths; roots only scope which paths the
// backing serves.
package native

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
	"github.com/fruitsalade/doctree/internal/vfs"
)

var tempPattern = vfs.TempName("*")

// Store implements vfs.Transactional over an afero filesystem.
type Store struct {
	fs    afero.Fs
	roots *vfs.Roots
}

// New creates a native store over fsys.
func New(fsys afero.Fs, roots *vfs.Roots) *Store {
	return &Store{fs: fsys, roots: roots}
}

// NewOS creates a native store over the host filesystem.
func NewOS(roots *vfs.Roots) *Store {
	return New(afero.NewOsFs(), roots)
}

func (s *Store) resolve(p string) (vfs.Location, error) {
	return s.roots.ResolveType(p, vfs.StorageNative)
}

func (s *Store) record(op string, err error) error {
	metrics.RecordVFSOperation("native", op, err)
	return err
}

// mapErr converts filesystem errors into the vfs taxonomy.
func mapErr(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return vfs.PathErr(op, p, vfs.ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return vfs.PathErr(op, p, vfs.ErrAlreadyExists)
	default:
		return vfs.PathErr(op, p, err)
	}
}

// Exists implements vfs.FS.
func (s *Store) Exists(_ context.Context, p string) bool {
	loc, err := s.resolve(p)
	if err != nil {
		return false
	}
	_, err = s.fs.Stat(loc.Abs())
	return err == nil
}

// Stat implements vfs.FS. Directories report zero size; creation time is
// the modification time because afero exposes no birth time.
func (s *Store) Stat(_ context.Context, p string) (vfs.FileInfo, error) {
	loc, err := s.resolve(p)
	if err != nil {
		return vfs.FileInfo{}, err
	}
	info, err := s.fs.Stat(loc.Abs())
	if err != nil {
		return vfs.FileInfo{}, mapErr("stat", p, err)
	}
	return toFileInfo(info), nil
}

func toFileInfo(info os.FileInfo) vfs.FileInfo {
	fi := vfs.FileInfo{
		IsDirectory:  info.IsDir(),
		IsFile:       info.Mode().IsRegular(),
		CreatedTime:  info.ModTime(),
		ModifiedTime: info.ModTime(),
	}
	if fi.IsFile {
		fi.SizeBytes = info.Size()
	}
	return fi
}

// ReadFile implements vfs.FS.
func (s *Store) ReadFile(_ context.Context, p string) ([]byte, error) {
	loc, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(loc.Abs())
	if err != nil {
		return nil, mapErr("read", p, err)
	}
	if info.IsDir() {
		return nil, vfs.PathErr("read", p, vfs.ErrIsDirectory)
	}
	data, err := afero.ReadFile(s.fs, loc.Abs())
	if err != nil {
		return nil, mapErr("read", p, err)
	}
	return data, nil
}

// WriteFile implements vfs.FS. Content is written to a temp file in the same
// directory and renamed over the target.
func (s *Store) WriteFile(_ context.Context, p string, data []byte) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if loc.IsRoot() {
		return s.record("write", vfs.PathErr("write", p, vfs.ErrIsDirectory))
	}
	if info, err := s.fs.Stat(loc.Abs()); err == nil && info.IsDir() {
		return s.record("write", vfs.PathErr("write", p, vfs.ErrIsDirectory))
	}
	dir := loc.Root.Abs(loc.Parent)
	if err := s.requireDir("write", p, dir); err != nil {
		return s.record("write", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPattern)
	if err != nil {
		return s.record("write", fmt.Errorf("create temp for %s: %w", p, err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return s.record("write", fmt.Errorf("write %s: %w", p, err))
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return s.record("write", fmt.Errorf("close temp for %s: %w", p, err))
	}
	if err := s.fs.Rename(tmpName, loc.Abs()); err != nil {
		s.fs.Remove(tmpName)
		return s.record("write", fmt.Errorf("rename temp to %s: %w", p, err))
	}

	logging.Debug("wrote file", zap.String("path", loc.Abs()), zap.Int("size", len(data)))
	return s.record("write", nil)
}

// requireDir checks that dir exists and is a directory.
func (s *Store) requireDir(op, p, dir string) error {
	info, err := s.fs.Stat(dir)
	if err != nil {
		return mapErr(op, p, err)
	}
	if !info.IsDir() {
		return vfs.PathErr(op, p, vfs.ErrNotDirectory)
	}
	return nil
}

// Readdir implements vfs.FS. afero.ReadDir sorts by name, which is ordinal
// order for ordinal-prefixed siblings.
func (s *Store) Readdir(_ context.Context, p string) ([]string, error) {
	loc, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(loc.Abs())
	if err != nil {
		return nil, mapErr("readdir", p, err)
	}
	if !info.IsDir() {
		return nil, vfs.NotDirectoryErr("readdir", p)
	}
	infos, err := afero.ReadDir(s.fs, loc.Abs())
	if err != nil {
		return nil, mapErr("readdir", p, err)
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if vfs.IsTemp(fi.Name()) {
			continue
		}
		names = append(names, fi.Name())
	}
	return names, nil
}


// Mkdir implements vfs.FS.
func (s *Store) Mkdir(_ context.Context, p string, opts vfs.MkdirOptions) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if opts.Recursive {
		return s.record("mkdir", s.mkdirAll(p, loc))
	}

	if _, err := s.fs.Stat(loc.Abs()); err == nil {
		return s.record("mkdir", vfs.PathErr("mkdir", p, vfs.ErrAlreadyExists))
	}
	if err := s.requireDir("mkdir", p, loc.Root.Abs(loc.Parent)); err != nil {
		return s.record("mkdir", err)
	}
	if err := s.fs.Mkdir(loc.Abs(), 0755); err != nil {
		return s.record("mkdir", mapErr("mkdir", p, err))
	}
	logging.Debug("created directory", zap.String("path", loc.Abs()))
	return s.record("mkdir", nil)
}

func (s *Store) mkdirAll(p string, loc vfs.Location) error {
	if loc.IsRoot() {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(loc.Rel, "/"), "/")
	rel := ""
	for i, seg := range segments {
		rel = vfs.Join(rel, seg)
		abs := loc.Root.Abs(rel)
		info, err := s.fs.Stat(abs)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil && i == len(segments)-1:
			return vfs.PathErr("mkdir", p, vfs.ErrAlreadyExists)
		case err == nil:
			return vfs.PathErr("mkdir", p, vfs.ErrNotDirectory)
		case !errors.Is(err, fs.ErrNotExist):
			return mapErr("mkdir", p, err)
		}
		if err := s.fs.Mkdir(abs, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
			return mapErr("mkdir", p, err)
		}
	}
	logging.Debug("created directory tree", zap.String("path", loc.Abs()))
	return nil
}

// Rename implements vfs.FS. The destination must not exist and its parent
// must be a directory.
func (s *Store) Rename(_ context.Context, oldPath, newPath string) error {
	from, err := s.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := s.resolve(newPath)
	if err != nil {
		return err
	}
	if from.Root.Key != to.Root.Key {
		return s.record("rename", vfs.PathErr("rename", newPath, vfs.ErrCrossRoot))
	}
	if from.IsRoot() || to.IsRoot() {
		return s.record("rename", vfs.PathErr("rename", oldPath, fmt.Errorf("%w: cannot rename the root", vfs.ErrInvalidOperation)))
	}
	info, err := s.fs.Stat(from.Abs())
	if err != nil {
		return s.record("rename", mapErr("rename", oldPath, err))
	}
	if from.Rel == to.Rel {
		return s.record("rename", nil)
	}
	if info.IsDir() && vfs.IsWithin(to.Rel, from.Rel) {
		return s.record("rename", vfs.PathErr("rename", newPath, fmt.Errorf("%w: cannot move a directory into itself", vfs.ErrInvalidOperation)))
	}
	if _, err := s.fs.Stat(to.Abs()); err == nil {
		return s.record("rename", vfs.PathErr("rename", newPath, vfs.ErrAlreadyExists))
	}
	if err := s.requireDir("rename", newPath, to.Root.Abs(to.Parent)); err != nil {
		return s.record("rename", err)
	}

	if err := s.fs.Rename(from.Abs(), to.Abs()); err != nil {
		return s.record("rename", mapErr("rename", oldPath, err))
	}
	logging.Debug("renamed entry",
		zap.String("from", from.Abs()),
		zap.String("to", to.Abs()),
		zap.Bool("is_dir", info.IsDir()))
	return s.record("rename", nil)
}

// Unlink implements vfs.FS.
func (s *Store) Unlink(_ context.Context, p string) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(loc.Abs())
	if err != nil {
		return s.record("unlink", mapErr("unlink", p, err))
	}
	if info.IsDir() {
		return s.record("unlink", vfs.PathErr("unlink", p, vfs.ErrIsDirectory))
	}
	if err := s.fs.Remove(loc.Abs()); err != nil {
		return s.record("unlink", mapErr("unlink", p, err))
	}
	logging.Debug("unlinked file", zap.String("path", loc.Abs()))
	return s.record("unlink", nil)
}

// Rm implements vfs.FS.
func (s *Store) Rm(_ context.Context, p string, opts vfs.RmOptions) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if loc.IsRoot() {
		return s.record("rm", vfs.PathErr("rm", p, fmt.Errorf("%w: cannot remove the root", vfs.ErrInvalidOperation)))
	}
	info, err := s.fs.Stat(loc.Abs())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && opts.Force {
			return nil
		}
		return s.record("rm", mapErr("rm", p, err))
	}
	if info.IsDir() {
		if !opts.Recursive && !opts.Force {
			return s.record("rm", vfs.PathErr("rm", p, vfs.ErrIsDirectory))
		}
		if err := s.fs.RemoveAll(loc.Abs()); err != nil {
			return s.record("rm", mapErr("rm", p, err))
		}
	} else if err := s.fs.Remove(loc.Abs()); err != nil {
		return s.record("rm", mapErr("rm", p, err))
	}
	logging.Debug("removed entry", zap.String("path", loc.Abs()), zap.Bool("is_dir", info.IsDir()))
	return s.record("rm", nil)
}

// Atomic implements vfs.Transactional. The filesystem has no transactions,
// so renames made through the view are journaled and undone in reverse
// order when fn fails. Other mutations are not undone.
func (s *Store) Atomic(ctx context.Context, fn func(vfs.FS) error) error {
	j := &journal{Store: s}
	if err := fn(j); err != nil {
		j.undo(ctx)
		return err
	}
	return nil
}

type journal struct {
	*Store
	renames [][2]string
}

func (j *journal) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := j.Store.Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	j.renames = append(j.renames, [2]string{oldPath, newPath})
	return nil
}

// Atomic joins the enclosing unit of work.
func (j *journal) Atomic(_ context.Context, fn func(vfs.FS) error) error {
	return fn(j)
}

func (j *journal) undo(ctx context.Context) {
	for i := len(j.renames) - 1; i >= 0; i-- {
		r := j.renames[i]
		if err := j.Store.Rename(ctx, r[1], r[0]); err != nil {
			logging.Warn("undo rename failed",
				zap.String("from", r[1]),
				zap.String("to", r[0]),
				zap.Error(err))
		}
	}
}
