// Package relational provides the VFS backing over the PostgreSQL entries
// table. Each row is one file or folder keyed by (root_key, parent_path,
// filename); directories have no content.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/db"
	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
	"github.com/fruitsalade/doctree/internal/vfs"
)

// Store implements vfs.Transactional against the entries table. A Store
// bound to a transaction (see Atomic) runs every statement on it.
type Store struct {
	exec    *db.Executor
	roots   *vfs.Roots
	tx      *db.Tx
	started time.Time
}

// New creates a relational store.
func New(exec *db.Executor, roots *vfs.Roots) *Store {
	return &Store{exec: exec, roots: roots, started: time.Now()}
}

func (s *Store) bind(tx *db.Tx) *Store {
	return &Store{exec: s.exec, roots: s.roots, tx: tx, started: s.started}
}

// entry is one row of the entries table, without content.
type entry struct {
	isDir    bool
	size     int64
	created  time.Time
	modified time.Time
}

func (s *Store) resolve(p string) (vfs.Location, error) {
	return s.roots.ResolveType(p, vfs.StorageRelational)
}

func (s *Store) record(op string, err error) error {
	metrics.RecordVFSOperation("relational", op, err)
	return err
}

// inTx runs fn in a transaction scope joined to the store's binding.
func (s *Store) inTx(ctx context.Context, fn func(q db.Querier) error) error {
	return s.exec.InTx(ctx, s.tx, func(tx *db.Tx) error {
		return s.exec.Do(ctx, tx, fn)
	})
}

// mapErr converts driver errors into the vfs taxonomy.
func mapErr(op, p string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return vfs.PathErr(op, p, vfs.ErrAlreadyExists)
		case "2201B": // invalid_regular_expression
			return vfs.PathErr(op, p, fmt.Errorf("%w: %v", vfs.ErrInvalidOperation, pqErr.Message))
		}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return err
	}
	return vfs.PathErr(op, p, err)
}

// escapeLike escapes LIKE metacharacters in s for use with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// lookup returns the row at (parent, name), or nil when there is none.
func lookup(ctx context.Context, q db.Querier, rootKey, parent, name string) (*entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("lookup_entry", time.Since(start)) }()

	var e entry
	err := q.QueryRowContext(ctx,
		`SELECT is_directory, size, created_time, modified_time
		 FROM entries WHERE root_key = $1 AND parent_path = $2 AND filename = $3`,
		rootKey, parent, name).Scan(&e.isDir, &e.size, &e.created, &e.modified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entry: %w", err)
	}
	return &e, nil
}

// requireParentDir checks that the parent of loc exists and is a directory.
// The root always exists.
func requireParentDir(ctx context.Context, q db.Querier, op, p string, loc vfs.Location) error {
	if loc.Parent == "" {
		return nil
	}
	pp, pn := vfs.Split(loc.Parent)
	parent, err := lookup(ctx, q, loc.Root.Key, pp, pn)
	if err != nil {
		return err
	}
	if parent == nil {
		return vfs.PathErr(op, p, vfs.ErrNotFound)
	}
	if !parent.isDir {
		return vfs.PathErr(op, p, vfs.ErrNotDirectory)
	}
	return nil
}

// stat returns the entry at loc, synthesizing the root.
func (s *Store) stat(ctx context.Context, loc vfs.Location) (*entry, error) {
	if loc.IsRoot() {
		return &entry{isDir: true, created: s.started, modified: s.started}, nil
	}
	var e *entry
	err := s.exec.Do(ctx, s.tx, func(q db.Querier) error {
		var err error
		e, err = lookup(ctx, q, loc.Root.Key, loc.Parent, loc.Filename)
		return err
	})
	return e, err
}

// Exists implements vfs.FS.
func (s *Store) Exists(ctx context.Context, p string) bool {
	loc, err := s.resolve(p)
	if err != nil {
		return false
	}
	e, err := s.stat(ctx, loc)
	if err != nil {
		logging.Debug("exists lookup failed", zap.String("path", p), zap.Error(err))
		return false
	}
	return e != nil
}

// Stat implements vfs.FS.
func (s *Store) Stat(ctx context.Context, p string) (vfs.FileInfo, error) {
	loc, err := s.resolve(p)
	if err != nil {
		return vfs.FileInfo{}, err
	}
	e, err := s.stat(ctx, loc)
	if err != nil {
		return vfs.FileInfo{}, mapErr("stat", p, err)
	}
	if e == nil {
		return vfs.FileInfo{}, vfs.PathErr("stat", p, vfs.ErrNotFound)
	}
	fi := vfs.FileInfo{
		IsDirectory:  e.isDir,
		IsFile:       !e.isDir,
		CreatedTime:  e.created,
		ModifiedTime: e.modified,
	}
	if !e.isDir {
		fi.SizeBytes = e.size
	}
	return fi, nil
}

// ReadFile implements vfs.FS.
func (s *Store) ReadFile(ctx context.Context, p string) ([]byte, error) {
	loc, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if loc.IsRoot() {
		return nil, vfs.PathErr("read", p, vfs.ErrIsDirectory)
	}

	var (
		isDir   bool
		content []byte
	)
	err = s.exec.Do(ctx, s.tx, func(q db.Querier) error {
		start := time.Now()
		defer func() { metrics.RecordDBQuery("read_file", time.Since(start)) }()
		return q.QueryRowContext(ctx,
			`SELECT is_directory, content FROM entries
			 WHERE root_key = $1 AND parent_path = $2 AND filename = $3`,
			loc.Root.Key, loc.Parent, loc.Filename).Scan(&isDir, &content)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vfs.PathErr("read", p, vfs.ErrNotFound)
	}
	if err != nil {
		return nil, mapErr("read", p, err)
	}
	if isDir {
		return nil, vfs.PathErr("read", p, vfs.ErrIsDirectory)
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

// WriteFile implements vfs.FS.
func (s *Store) WriteFile(ctx context.Context, p string, data []byte) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if loc.IsRoot() {
		return s.record("write", vfs.PathErr("write", p, vfs.ErrIsDirectory))
	}

	err = s.inTx(ctx, func(q db.Querier) error {
		if err := requireParentDir(ctx, q, "write", p, loc); err != nil {
			return err
		}
		existing, err := lookup(ctx, q, loc.Root.Key, loc.Parent, loc.Filename)
		if err != nil {
			return err
		}
		if existing != nil && existing.isDir {
			return vfs.PathErr("write", p, vfs.ErrIsDirectory)
		}

		start := time.Now()
		defer func() { metrics.RecordDBQuery("write_file", time.Since(start)) }()
		if existing != nil {
			_, err = q.ExecContext(ctx,
				`UPDATE entries SET content = $1, size = $2, modified_time = NOW()
				 WHERE root_key = $3 AND parent_path = $4 AND filename = $5`,
				data, len(data), loc.Root.Key, loc.Parent, loc.Filename)
		} else {
			_, err = q.ExecContext(ctx,
				`INSERT INTO entries (root_key, parent_path, filename, is_directory, content, size)
				 VALUES ($1, $2, $3, FALSE, $4, $5)`,
				loc.Root.Key, loc.Parent, loc.Filename, data, len(data))
		}
		if err != nil {
			return mapErr("write", p, err)
		}
		return nil
	})
	if err != nil {
		return s.record("write", err)
	}
	logging.Debug("wrote entry", zap.String("root", loc.Root.Key), zap.String("path", loc.Rel), zap.Int("size", len(data)))
	return s.record("write", nil)
}

// Readdir implements vfs.FS. Names are returned in byte order, which is
// ordinal order. Inside a transaction the listed rows are locked first so
// that concurrent reorders of one folder serialize.
func (s *Store) Readdir(ctx context.Context, p string) ([]string, error) {
	loc, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	var names []string
	err = s.exec.Do(ctx, s.tx, func(q db.Querier) error {
		if !loc.IsRoot() {
			e, err := lookup(ctx, q, loc.Root.Key, loc.Parent, loc.Filename)
			if err != nil {
				return err
			}
			if e == nil {
				return vfs.PathErr("readdir", p, vfs.ErrNotFound)
			}
			if !e.isDir {
				return vfs.NotDirectoryErr("readdir", p)
			}
		}

		start := time.Now()
		defer func() { metrics.RecordDBQuery("list_dir", time.Since(start)) }()

		// Lock the children first, then list them with a fresh snapshot so
		// the listing reflects any unit of work that held the lock before.
		if s.tx != nil {
			if _, err := q.ExecContext(ctx,
				`SELECT 1 FROM entries
				 WHERE root_key = $1 AND parent_path = $2
				 ORDER BY filename COLLATE "C" FOR UPDATE`,
				loc.Root.Key, loc.Rel); err != nil {
				return fmt.Errorf("lock dir: %w", err)
			}
		}
		rows, err := q.QueryContext(ctx,
			`SELECT filename FROM entries
			 WHERE root_key = $1 AND parent_path = $2
			 ORDER BY filename COLLATE "C"`,
			loc.Root.Key, loc.Rel)
		if err != nil {
			return fmt.Errorf("list dir: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, mapErr("readdir", p, err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Mkdir implements vfs.FS.
func (s *Store) Mkdir(ctx context.Context, p string, opts vfs.MkdirOptions) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if loc.IsRoot() {
		if opts.Recursive {
			return nil
		}
		return s.record("mkdir", vfs.PathErr("mkdir", p, vfs.ErrAlreadyExists))
	}

	err = s.inTx(ctx, func(q db.Querier) error {
		if !opts.Recursive {
			existing, err := lookup(ctx, q, loc.Root.Key, loc.Parent, loc.Filename)
			if err != nil {
				return err
			}
			if existing != nil {
				return vfs.PathErr("mkdir", p, vfs.ErrAlreadyExists)
			}
			if err := requireParentDir(ctx, q, "mkdir", p, loc); err != nil {
				return err
			}
			return insertDir(ctx, q, loc.Root.Key, loc.Parent, loc.Filename, p)
		}

		segments := strings.Split(strings.TrimPrefix(loc.Rel, "/"), "/")
		parent := ""
		for i, seg := range segments {
			e, err := lookup(ctx, q, loc.Root.Key, parent, seg)
			if err != nil {
				return err
			}
			switch {
			case e != nil && e.isDir:
			case e != nil && i == len(segments)-1:
				return vfs.PathErr("mkdir", p, vfs.ErrAlreadyExists)
			case e != nil:
				return vfs.PathErr("mkdir", p, vfs.ErrNotDirectory)
			default:
				if err := insertDir(ctx, q, loc.Root.Key, parent, seg, p); err != nil {
					return err
				}
			}
			parent = vfs.Join(parent, seg)
		}
		return nil
	})
	if err != nil {
		return s.record("mkdir", err)
	}
	logging.Debug("created directory", zap.String("root", loc.Root.Key), zap.String("path", loc.Rel))
	return s.record("mkdir", nil)
}

func insertDir(ctx context.Context, q db.Querier, rootKey, parent, name, p string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_dir", time.Since(start)) }()

	_, err := q.ExecContext(ctx,
		`INSERT INTO entries (root_key, parent_path, filename, is_directory, size)
		 VALUES ($1, $2, $3, TRUE, 0)`,
		rootKey, parent, name)
	if err != nil {
		return mapErr("mkdir", p, err)
	}
	return nil
}

// Rename implements vfs.FS. Renaming a directory rewrites the parent_path
// prefix of every descendant in the same transaction.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
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
	var cascaded int64
	err = s.inTx(ctx, func(q db.Querier) error {
		src, err := lookup(ctx, q, from.Root.Key, from.Parent, from.Filename)
		if err != nil {
			return err
		}
		if src == nil {
			return vfs.PathErr("rename", oldPath, vfs.ErrNotFound)
		}
		if from.Rel == to.Rel {
			return nil
		}
		if src.isDir && vfs.IsWithin(to.Rel, from.Rel) {
			return vfs.PathErr("rename", newPath, fmt.Errorf("%w: cannot move a directory into itself", vfs.ErrInvalidOperation))
		}
		dst, err := lookup(ctx, q, to.Root.Key, to.Parent, to.Filename)
		if err != nil {
			return err
		}
		if dst != nil {
			return vfs.PathErr("rename", newPath, vfs.ErrAlreadyExists)
		}
		if err := requireParentDir(ctx, q, "rename", newPath, to); err != nil {
			return err
		}

		start := time.Now()
		defer func() { metrics.RecordDBQuery("rename_entry", time.Since(start)) }()

		if _, err := q.ExecContext(ctx,
			`UPDATE entries SET parent_path = $1, filename = $2
			 WHERE root_key = $3 AND parent_path = $4 AND filename = $5`,
			to.Parent, to.Filename, from.Root.Key, from.Parent, from.Filename); err != nil {
			return mapErr("rename", newPath, err)
		}
		if !src.isDir {
			return nil
		}

		res, err := q.ExecContext(ctx,
			`UPDATE entries SET
			   parent_path = $1::text || substring(parent_path from length($2::text) + 1)
			 WHERE root_key = $3
			   AND (parent_path = $2::text OR parent_path LIKE $4::text || '/%' ESCAPE '\')`,
			to.Rel, from.Rel, from.Root.Key, escapeLike(from.Rel))
		if err != nil {
			return mapErr("rename", newPath, fmt.Errorf("move descendants: %w", err))
		}
		cascaded, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return s.record("rename", err)
	}
	if cascaded > 0 {
		metrics.RecordRenameCascade(cascaded)
	}
	logging.Debug("renamed entry",
		zap.String("root", from.Root.Key),
		zap.String("from", from.Rel),
		zap.String("to", to.Rel),
		zap.Int64("descendants", cascaded))
	return s.record("rename", nil)
}

// Unlink implements vfs.FS.
func (s *Store) Unlink(ctx context.Context, p string) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if loc.IsRoot() {
		return s.record("unlink", vfs.PathErr("unlink", p, vfs.ErrIsDirectory))
	}

	err = s.inTx(ctx, func(q db.Querier) error {
		e, err := lookup(ctx, q, loc.Root.Key, loc.Parent, loc.Filename)
		if err != nil {
			return err
		}
		if e == nil {
			return vfs.PathErr("unlink", p, vfs.ErrNotFound)
		}
		if e.isDir {
			return vfs.PathErr("unlink", p, vfs.ErrIsDirectory)
		}

		start := time.Now()
		defer func() { metrics.RecordDBQuery("delete_entry", time.Since(start)) }()
		_, err = q.ExecContext(ctx,
			`DELETE FROM entries WHERE root_key = $1 AND parent_path = $2 AND filename = $3`,
			loc.Root.Key, loc.Parent, loc.Filename)
		if err != nil {
			return mapErr("unlink", p, err)
		}
		return nil
	})
	return s.record("unlink", err)
}

// Rm implements vfs.FS.
func (s *Store) Rm(ctx context.Context, p string, opts vfs.RmOptions) error {
	loc, err := s.resolve(p)
	if err != nil {
		return err
	}
	if loc.IsRoot() {
		return s.record("rm", vfs.PathErr("rm", p, fmt.Errorf("%w: cannot remove the root", vfs.ErrInvalidOperation)))
	}

	var removed int64
	err = s.inTx(ctx, func(q db.Querier) error {
		e, err := lookup(ctx, q, loc.Root.Key, loc.Parent, loc.Filename)
		if err != nil {
			return err
		}
		if e == nil {
			if opts.Force {
				return nil
			}
			return vfs.PathErr("rm", p, vfs.ErrNotFound)
		}
		if e.isDir && !opts.Recursive && !opts.Force {
			return vfs.PathErr("rm", p, vfs.ErrIsDirectory)
		}

		start := time.Now()
		defer func() { metrics.RecordDBQuery("delete_tree", time.Since(start)) }()
		res, err := q.ExecContext(ctx,
			`DELETE FROM entries WHERE root_key = $1
			   AND ((parent_path = $2 AND filename = $3)
			     OR parent_path = $4
			     OR parent_path LIKE $5 || '/%' ESCAPE '\')`,
			loc.Root.Key, loc.Parent, loc.Filename, loc.Rel, escapeLike(loc.Rel))
		if err != nil {
			return mapErr("rm", p, err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return s.record("rm", err)
	}
	logging.Debug("removed entries", zap.String("root", loc.Root.Key), zap.String("path", loc.Rel), zap.Int64("rows", removed))
	return s.record("rm", nil)
}

// Atomic implements vfs.Transactional. fn receives a view bound to one
// transaction; a view passed to a nested Atomic joins it. The transaction
// commits when the outermost fn returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(vfs.FS) error) error {
	return s.exec.InTx(ctx, s.tx, func(tx *db.Tx) error {
		return fn(s.bind(tx))
	})
}
