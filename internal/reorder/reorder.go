// Package reorder moves an entry one position up or down among its siblings
// by swapping the ordinal prefixes of the entry and its neighbor.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/db"
	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
	"github.com/fruitsalade/doctree/internal/retry"
	"github.com/fruitsalade/doctree/internal/vfs"
)

// Direction is the way an entry moves in its folder's display order.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ErrAtBoundary is returned when moving the first entry up or the last entry
// down. Nothing is changed.
var ErrAtBoundary = fmt.Errorf("%w: entry is already at the boundary", vfs.ErrInvalidOperation)

// Request names the entry to move.
type Request struct {
	Direction  Direction
	Filename   string // name within TreeFolder, e.g. "0005_file5.md"
	TreeFolder string // absolute path of the containing folder
	DocRootKey string
}

// Rename is one name change applied by a move.
type Rename struct {
	From string
	To   string
}

// Result reports the new names of both swapped entries.
type Result struct {
	Target   Rename
	Neighbor Rename
}

// Engine performs reorders through a router.
type Engine struct {
	router *vfs.Router
	format vfs.OrdinalFormat
	retry  retry.Policy
}

// New creates an engine using ordinal format v1.
func New(router *vfs.Router) *Engine {
	return &Engine{router: router, format: vfs.OrdinalFormatV1, retry: retry.DefaultPolicy()}
}

// Move swaps the ordinal prefix of req.Filename with that of its neighbor in
// the requested direction. Both renames are applied as one unit of work,
// which is run again when it loses a conflict with a concurrent reorder.
func (e *Engine) Move(ctx context.Context, req Request) (Result, error) {
	var res Result
	err := retry.Do(ctx, e.retry, db.IsConflict, func(attempt int) error {
		if attempt > 1 {
			logging.Debug("retrying reorder",
				zap.String("folder", req.TreeFolder),
				zap.String("filename", req.Filename),
				zap.Int("attempt", attempt))
		}
		var err error
		res, err = e.move(ctx, req)
		return err
	})
	switch {
	case errors.Is(err, ErrAtBoundary):
		metrics.RecordReorder("boundary")
	case err != nil:
		metrics.RecordReorder("error")
	default:
		metrics.RecordReorder("moved")
	}
	return res, err
}

func (e *Engine) move(ctx context.Context, req Request) (Result, error) {
	if req.Direction != Up && req.Direction != Down {
		return Result{}, fmt.Errorf("%w: unknown direction %q", vfs.ErrInvalidOperation, req.Direction)
	}

	backing, _, err := e.router.Backing(req.DocRootKey)
	if err != nil {
		return Result{}, err
	}
	loc, err := e.router.Roots().ResolveIn(req.DocRootKey, req.TreeFolder)
	if err != nil {
		return Result{}, err
	}
	tx, ok := backing.(vfs.Transactional)
	if !ok {
		return Result{}, fmt.Errorf("root %q: %w: backing has no unit of work", req.DocRootKey, vfs.ErrNotImplemented)
	}
	folder := loc.Abs()

	var res Result
	err = tx.Atomic(ctx, func(fsys vfs.FS) error {
		names, err := fsys.Readdir(ctx, folder)
		if err != nil {
			return err
		}
		i := indexOf(names, req.Filename)
		if i < 0 {
			return vfs.PathErr("reorder", path.Join(folder, req.Filename), vfs.ErrNotFound)
		}
		j := i - 1
		if req.Direction == Down {
			j = i + 1
		}
		if j < 0 || j >= len(names) {
			return ErrAtBoundary
		}

		target, neighbor := names[i], names[j]
		targetOrd, targetBase, err := e.format.Parse(target)
		if err != nil {
			return err
		}
		neighborOrd, neighborBase, err := e.format.Parse(neighbor)
		if err != nil {
			return err
		}
		newTarget, err := e.format.Format(neighborOrd, targetBase)
		if err != nil {
			return err
		}
		newNeighbor, err := e.format.Format(targetOrd, neighborBase)
		if err != nil {
			return err
		}

		// Two siblings cannot trade names directly, so the target parks
		// under a scratch name first.
		tmp := vfs.TempName("reorder-" + target)
		steps := [][2]string{
			{target, tmp},
			{neighbor, newNeighbor},
			{tmp, newTarget},
		}
		for _, st := range steps {
			if err := fsys.Rename(ctx, path.Join(folder, st[0]), path.Join(folder, st[1])); err != nil {
				return err
			}
		}

		res = Result{
			Target:   Rename{From: target, To: newTarget},
			Neighbor: Rename{From: neighbor, To: newNeighbor},
		}
		return nil
	})
	log := logging.WithContext(ctx)
	if err != nil {
		if !errors.Is(err, ErrAtBoundary) {
			log.Warn("reorder failed",
				zap.String("root", req.DocRootKey),
				zap.String("folder", folder),
				zap.String("filename", req.Filename),
				zap.Error(err))
		}
		return Result{}, err
	}

	log.Info("entry reordered",
		zap.String("root", req.DocRootKey),
		zap.String("folder", folder),
		zap.String("direction", string(req.Direction)),
		zap.String("from", res.Target.From),
		zap.String("to", res.Target.To))
	return res, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
