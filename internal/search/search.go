// Package search validates search requests, resolves them to a root and
// subtree, and runs them on the backing serving that root.
package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
	"github.com/fruitsalade/doctree/internal/vfs"
)

const (
	DefaultLimit = 200
	MaxLimit     = 1000
)

// Request is a search as callers express it. Either Path (an absolute
// folder path) or RootKey must be set; Path wins when both are.
type Request struct {
	Query       string
	Path        string
	RootKey     string
	Mode        vfs.SearchMode
	RequireDate bool
	Order       vfs.SearchOrder
	Limit       int
}

// Result is one match. Path is relative to the root, without a leading slash.
type Result struct {
	Path         string    `json:"path"`
	RootKey      string    `json:"root_key"`
	IsDirectory  bool      `json:"is_directory"`
	SizeBytes    int64     `json:"size_bytes"`
	ModifiedTime time.Time `json:"modified_time"`
	Date         string    `json:"date,omitempty"`
}

// Engine dispatches searches through a router.
type Engine struct {
	router *vfs.Router
}

// New creates a search engine.
func New(router *vfs.Router) *Engine {
	return &Engine{router: router}
}

// Search runs req on the backing serving its root.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	q, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	backing, root, err := e.router.Backing(q.RootKey)
	if err != nil {
		return nil, err
	}
	searcher, ok := backing.(vfs.Searcher)
	if !ok {
		return nil, fmt.Errorf("root %q: %w: backing cannot search", q.RootKey, vfs.ErrNotImplemented)
	}

	start := time.Now()
	rows, err := searcher.Search(ctx, q)
	if err != nil {
		logging.WithContext(ctx).Warn("search failed",
			zap.String("root", q.RootKey),
			zap.String("mode", string(q.Mode)),
			zap.Error(err))
		return nil, err
	}
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	metrics.RecordSearch(string(root.Type), string(q.Mode), time.Since(start), len(rows))

	results := make([]Result, len(rows))
	for i, r := range rows {
		results[i] = Result{
			Path:         strings.TrimPrefix(r.FullPath, "/"),
			RootKey:      root.Key,
			IsDirectory:  r.IsDirectory,
			SizeBytes:    r.SizeBytes,
			ModifiedTime: r.ModifiedTime,
			Date:         r.Date,
		}
	}

	logging.Debug("search complete",
		zap.String("root", q.RootKey),
		zap.String("subtree", q.Subtree),
		zap.String("mode", string(q.Mode)),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}

// prepare validates req and turns it into a backing query.
func (e *Engine) prepare(req Request) (vfs.SearchQuery, error) {
	q := vfs.SearchQuery{
		Query:       req.Query,
		Mode:        req.Mode,
		RequireDate: req.RequireDate,
		Order:       req.Order,
		Limit:       req.Limit,
	}

	if strings.TrimSpace(q.Query) == "" {
		return q, fmt.Errorf("%w: empty search query", vfs.ErrInvalidOperation)
	}
	if q.Mode == "" {
		q.Mode = vfs.SearchAny
	}
	switch q.Mode {
	case vfs.SearchRegex:
		if _, err := regexp.Compile(q.Query); err != nil {
			return q, fmt.Errorf("%w: invalid regular expression: %v", vfs.ErrInvalidOperation, err)
		}
	case vfs.SearchAny, vfs.SearchAll:
	default:
		return q, fmt.Errorf("%w: unknown search mode %q", vfs.ErrInvalidOperation, q.Mode)
	}
	if q.Order == "" {
		q.Order = vfs.OrderModified
	}
	switch q.Order {
	case vfs.OrderModified, vfs.OrderName, vfs.OrderDate:
	default:
		return q, fmt.Errorf("%w: unknown search order %q", vfs.ErrInvalidOperation, q.Order)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	switch {
	case req.Path != "":
		loc, err := e.router.Roots().Resolve(req.Path)
		if err != nil {
			return q, err
		}
		if req.RootKey != "" && req.RootKey != loc.Root.Key {
			return q, vfs.PathErr("search", req.Path, vfs.ErrCrossRoot)
		}
		q.RootKey = loc.Root.Key
		q.Subtree = loc.Rel
	case req.RootKey != "":
		q.RootKey = req.RootKey
	default:
		return q, fmt.Errorf("%w: search needs a path or a root key", vfs.ErrInvalidOperation)
	}
	return q, nil
}
