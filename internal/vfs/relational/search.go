package relational

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fruitsalade/doctree/internal/db"
	"github.com/fruitsalade/doctree/internal/metrics"
	"github.com/fruitsalade/doctree/internal/vfs"
)

// Search implements vfs.Searcher with a single server-side query. Content
// is matched as UTF-8 text; content that is not valid UTF-8 only matches by
// filename. Directories never match.
func (s *Store) Search(ctx context.Context, q vfs.SearchQuery) ([]vfs.SearchRow, error) {
	root, ok := s.roots.ByKey(q.RootKey)
	if !ok || root.Type != vfs.StorageRelational {
		return nil, vfs.PathErr("search", q.RootKey, vfs.ErrNoRootFound)
	}

	query, args, err := buildSearch(q)
	if err != nil {
		return nil, err
	}

	var rows []vfs.SearchRow
	err = s.exec.Do(ctx, s.tx, func(qr db.Querier) error {
		start := time.Now()
		defer func() { metrics.RecordDBQuery("search_entries", time.Since(start)) }()

		res, err := qr.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("search entries: %w", err)
		}
		defer res.Close()
		for res.Next() {
			row := vfs.SearchRow{RootKey: root.Key}
			if err := res.Scan(&row.FullPath, &row.IsDirectory, &row.SizeBytes, &row.ModifiedTime, &row.Date); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return res.Err()
	})
	if err != nil {
		return nil, mapErr("search", q.RootKey, err)
	}
	return rows, nil
}

// buildSearch renders the search statement and its arguments.
func buildSearch(q vfs.SearchQuery) (string, []any, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	var where []string
	where = append(where, "root_key = "+arg(q.RootKey), "NOT is_directory")
	if q.Subtree != "" {
		where = append(where, fmt.Sprintf(
			`(parent_path = %s OR parent_path LIKE %s || '/%%' ESCAPE '\')`,
			arg(q.Subtree), arg(escapeLike(q.Subtree))))
	}

	var match string
	switch q.Mode {
	case vfs.SearchRegex:
		p := arg(q.Query)
		match = fmt.Sprintf("(filename ~ %s OR body ~ %s)", p, p)
	case vfs.SearchAny:
		p := arg(pq.Array(likePatterns(q.Query)))
		match = fmt.Sprintf("(filename ILIKE ANY(%s) OR body ILIKE ANY(%s))", p, p)
	case vfs.SearchAll:
		p := arg(pq.Array(likePatterns(q.Query)))
		match = fmt.Sprintf(
			"(cardinality(%s::text[]) > 0 AND NOT EXISTS (SELECT 1 FROM unnest(%s::text[]) AS t(pattern) WHERE NOT (filename ILIKE t.pattern OR body ILIKE t.pattern)))",
			p, p)
	default:
		return "", nil, fmt.Errorf("%w: unknown search mode %q", vfs.ErrInvalidOperation, q.Mode)
	}

	var order string
	switch q.Order {
	case vfs.OrderName:
		order = `full_path COLLATE "C" ASC`
	case vfs.OrderDate:
		order = "date DESC NULLS LAST, modified_time DESC"
	case vfs.OrderModified, "":
		order = "modified_time DESC"
	default:
		return "", nil, fmt.Errorf("%w: unknown search order %q", vfs.ErrInvalidOperation, q.Order)
	}

	datePattern := arg(vfs.DateTokenPattern)
	var b strings.Builder
	fmt.Fprintf(&b, `WITH candidates AS (
  SELECT parent_path || '/' || filename AS full_path, filename, is_directory, size, modified_time,
         COALESCE(doctree_text(content), '') AS body
  FROM entries
  WHERE %s
), matched AS (
  SELECT *, COALESCE(substring(filename from %s::text), substring(body from %s::text)) AS date
  FROM candidates
  WHERE %s
)
SELECT full_path, is_directory, size, modified_time, COALESCE(date, '')
FROM matched`, strings.Join(where, " AND "), datePattern, datePattern, match)
	if q.RequireDate {
		b.WriteString("\nWHERE date IS NOT NULL")
	}
	fmt.Fprintf(&b, "\nORDER BY %s", order)
	if q.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %s", arg(q.Limit))
	}
	return b.String(), args, nil
}

// likePatterns turns whitespace-separated terms into ILIKE substring patterns.
func likePatterns(query string) []string {
	terms := vfs.Terms(query)
	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + escapeLike(t) + "%"
	}
	return patterns
}
