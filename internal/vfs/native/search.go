package native

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/fruitsalade/doctree/internal/vfs"
)

// Search implements vfs.Searcher by walking the subtree and matching file
// names and contents in process; the filesystem has no index to delegate to.
func (s *Store) Search(ctx context.Context, q vfs.SearchQuery) ([]vfs.SearchRow, error) {
	root, ok := s.roots.ByKey(q.RootKey)
	if !ok || root.Type != vfs.StorageNative {
		return nil, vfs.PathErr("search", q.RootKey, vfs.ErrNoRootFound)
	}

	match, err := matcher(q)
	if err != nil {
		return nil, err
	}

	start := root.Abs(q.Subtree)
	var rows []vfs.SearchRow
	err = afero.Walk(s.fs, start, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() || vfs.IsTemp(info.Name()) {
			return nil
		}
		content, err := afero.ReadFile(s.fs, p)
		if err != nil {
			return err
		}
		name := path.Base(p)
		text := string(content)
		if !match(name, text) {
			return nil
		}
		date := vfs.DateToken.FindString(name)
		if date == "" {
			date = vfs.DateToken.FindString(text)
		}
		if q.RequireDate && date == "" {
			return nil
		}
		rel := p
		if root.BasePath != "/" {
			rel = strings.TrimPrefix(p, root.BasePath)
		}
		rows = append(rows, vfs.SearchRow{
			FullPath:     rel,
			RootKey:      root.Key,
			SizeBytes:    info.Size(),
			ModifiedTime: info.ModTime(),
			Date:         date,
		})
		return nil
	})
	if err != nil {
		return nil, mapErr("search", start, err)
	}

	sortRows(rows, q.Order)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func matcher(q vfs.SearchQuery) (func(name, text string) bool, error) {
	switch q.Mode {
	case vfs.SearchRegex:
		re, err := regexp.Compile(q.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", vfs.ErrInvalidOperation, err)
		}
		return func(name, text string) bool {
			return re.MatchString(name) || re.MatchString(text)
		}, nil
	case vfs.SearchAny, vfs.SearchAll:
		terms := vfs.Terms(strings.ToLower(q.Query))
		all := q.Mode == vfs.SearchAll
		return func(name, text string) bool {
			name, text = strings.ToLower(name), strings.ToLower(text)
			for _, t := range terms {
				hit := strings.Contains(name, t) || strings.Contains(text, t)
				if hit && !all {
					return true
				}
				if !hit && all {
					return false
				}
			}
			return all && len(terms) > 0
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown search mode %q", vfs.ErrInvalidOperation, q.Mode)
	}
}

func sortRows(rows []vfs.SearchRow, order vfs.SearchOrder) {
	switch order {
	case vfs.OrderName:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].FullPath < rows[j].FullPath })
	case vfs.OrderDate:
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Date != rows[j].Date {
				return rows[i].Date > rows[j].Date
			}
			return rows[i].ModifiedTime.After(rows[j].ModifiedTime)
		})
	default:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].ModifiedTime.After(rows[j].ModifiedTime) })
	}
}
