package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/vfs"
	"github.com/fruitsalade/doctree/internal/vfs/native"
)

func init() {
	logging.InitNop()
}

func newEngine(t *testing.T) (*Engine, afero.Fs) {
	t.Helper()
	roots, err := vfs.NewRoots([]vfs.Root{
		{Key: "notes", BasePath: "/notes", Type: vfs.StorageNative},
		{Key: "pgroot", BasePath: "/docs", Type: vfs.StorageRelational},
	})
	if err != nil {
		t.Fatal(err)
	}
	mem := afero.NewMemMapFs()
	files := map[string]string{
		"/notes/0001_plan.md":          "roadmap for 2024-03-01",
		"/notes/journal/0001_mon.md":   "Budget review 2024-01-08",
		"/notes/journal/0002_tue.md":   "budget approved",
		"/notes/journal/0003_wed.md":   "nothing much",
		"/notes/archive/2023-12-31.md": "old budget",
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for p, content := range files {
		if err := afero.WriteFile(mem, p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		mem.Chtimes(p, base, base.Add(time.Duration(len(p))*time.Hour))
	}
	r := vfs.NewRouter(roots)
	r.Register(vfs.StorageNative, native.New(mem, roots))
	return New(r), mem
}

func paths(results []Result) string {
	s := ""
	for i, r := range results {
		if i > 0 {
			s += ","
		}
		s += r.Path
	}
	return s
}

func TestSearchSubtreeNormalized(t *testing.T) {
	e, _ := newEngine(t)

	results, err := e.Search(context.Background(), Request{
		Query: "budget", Path: "/notes/journal", Mode: vfs.SearchAny, Order: vfs.OrderName,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := paths(results); got != "journal/0001_mon.md,journal/0002_tue.md" {
		t.Errorf("unexpected results: %s", got)
	}
	for _, r := range results {
		if r.RootKey != "notes" {
			t.Errorf("expected root key notes, got %s", r.RootKey)
		}
	}
}

func TestSearchModes(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"any", Request{Query: "roadmap approved", RootKey: "notes", Mode: vfs.SearchAny, Order: vfs.OrderName},
			"0001_plan.md,journal/0002_tue.md"},
		{"all", Request{Query: "budget review", RootKey: "notes", Mode: vfs.SearchAll, Order: vfs.OrderName},
			"journal/0001_mon.md"},
		{"regex", Request{Query: `^old`, RootKey: "notes", Mode: vfs.SearchRegex, Order: vfs.OrderName},
			"archive/2023-12-31.md"},
		{"require date", Request{Query: "budget", RootKey: "notes", RequireDate: true, Order: vfs.OrderDate},
			"journal/0001_mon.md,archive/2023-12-31.md"},
		{"limit", Request{Query: "budget", RootKey: "notes", Order: vfs.OrderName, Limit: 1},
			"archive/2023-12-31.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := e.Search(ctx, tt.req)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got := paths(results); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSearchValidation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty query", Request{Query: "  ", RootKey: "notes"}, vfs.ErrInvalidOperation},
		{"bad regex", Request{Query: "(", RootKey: "notes", Mode: vfs.SearchRegex}, vfs.ErrInvalidOperation},
		{"bad mode", Request{Query: "x", RootKey: "notes", Mode: "fuzzy"}, vfs.ErrInvalidOperation},
		{"bad order", Request{Query: "x", RootKey: "notes", Order: "size"}, vfs.ErrInvalidOperation},
		{"no scope", Request{Query: "x"}, vfs.ErrInvalidOperation},
		{"unknown root", Request{Query: "x", RootKey: "nope"}, vfs.ErrNoRootFound},
		{"unmapped path", Request{Query: "x", Path: "/elsewhere"}, vfs.ErrNoRootFound},
		{"conflicting scope", Request{Query: "x", Path: "/notes/journal", RootKey: "pgroot"}, vfs.ErrCrossRoot},
		{"no backing", Request{Query: "x", RootKey: "pgroot"}, vfs.ErrNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Search(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPrepareLimits(t *testing.T) {
	e, _ := newEngine(t)

	for _, tt := range []struct{ in, want int }{{0, DefaultLimit}, {-5, DefaultLimit}, {10, 10}, {5000, MaxLimit}} {
		q, err := e.prepare(Request{Query: "x", RootKey: "notes", Limit: tt.in})
		if err != nil {
			t.Fatal(err)
		}
		if q.Limit != tt.want {
			t.Errorf("limit %d: got %d, want %d", tt.in, q.Limit, tt.want)
		}
		if q.Mode != vfs.SearchAny || q.Order != vfs.OrderModified {
			t.Errorf("unexpected defaults: %+v", q)
		}
	}
}
