package vfs

import (
	"errors"
	"testing"
)

func mustRoots(t *testing.T, roots ...Root) *Roots {
	t.Helper()
	r, err := NewRoots(roots)
	if err != nil {
		t.Fatalf("NewRoots: %v", err)
	}
	return r
}

func TestResolvePgroot(t *testing.T) {
	r := mustRoots(t, Root{Key: "pgroot", BasePath: "/docs", Type: StorageRelational})

	loc, err := r.Resolve("/docs/a/b.md")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.Root.Key != "pgroot" {
		t.Errorf("expected pgroot, got %s", loc.Root.Key)
	}
	if loc.Rel != "/a/b.md" {
		t.Errorf("expected relative path /a/b.md, got %s", loc.Rel)
	}
	if loc.Parent != "/a" || loc.Filename != "b.md" {
		t.Errorf("expected (/a, b.md), got (%s, %s)", loc.Parent, loc.Filename)
	}
	if loc.Abs() != "/docs/a/b.md" {
		t.Errorf("expected abs /docs/a/b.md, got %s", loc.Abs())
	}
}

func TestResolveNormalizes(t *testing.T) {
	r := mustRoots(t, Root{Key: "k", BasePath: "/docs/", Type: StorageNative})

	tests := []struct {
		in, rel, parent, name string
	}{
		{"/docs", "", "", ""},
		{"/docs/", "", "", ""},
		{"\\docs\\x.md", "/x.md", "", "x.md"},
		{"/docs//a/./b/../c.md", "/a/c.md", "/a", "c.md"},
		{"docs/a/b/c", "/a/b/c", "/a/b", "c"},
	}
	for _, tt := range tests {
		loc, err := r.Resolve(tt.in)
		if err != nil {
			t.Errorf("%q: %v", tt.in, err)
			continue
		}
		if loc.Rel != tt.rel || loc.Parent != tt.parent || loc.Filename != tt.name {
			t.Errorf("%q: got (%q, %q, %q), want (%q, %q, %q)",
				tt.in, loc.Rel, loc.Parent, loc.Filename, tt.rel, tt.parent, tt.name)
		}
	}
	if !(Location{Rel: ""}).IsRoot() {
		t.Error("empty relative path should be the root")
	}
}

func TestResolveNoRoot(t *testing.T) {
	r := mustRoots(t, Root{Key: "k", BasePath: "/docs", Type: StorageNative})

	for _, p := range []string{"/other/a.md", "/docsx/a.md", "/", "/doc"} {
		if _, err := r.Resolve(p); !errors.Is(err, ErrNoRootFound) {
			t.Errorf("%q: expected ErrNoRootFound, got %v", p, err)
		}
	}
}

func TestResolveFirstMatchAndType(t *testing.T) {
	r := mustRoots(t,
		Root{Key: "outer", BasePath: "/data", Type: StorageNative},
		Root{Key: "inner", BasePath: "/data/db", Type: StorageRelational},
	)

	loc, err := r.Resolve("/data/db/x.md")
	if err != nil || loc.Root.Key != "outer" {
		t.Errorf("expected first configured root to win, got %v, %v", loc.Root.Key, err)
	}

	loc, err = r.ResolveType("/data/db/x.md", StorageRelational)
	if err != nil || loc.Root.Key != "inner" || loc.Rel != "/x.md" {
		t.Errorf("expected relational root, got %+v, %v", loc, err)
	}

	if _, err := r.ResolveType("/data/x.md", StorageRelational); !errors.Is(err, ErrNoRootFound) {
		t.Errorf("expected ErrNoRootFound for type mismatch, got %v", err)
	}
}

func TestResolveIn(t *testing.T) {
	r := mustRoots(t,
		Root{Key: "a", BasePath: "/a", Type: StorageNative},
		Root{Key: "b", BasePath: "/b", Type: StorageNative},
	)

	loc, err := r.ResolveIn("a", "/a/x")
	if err != nil || loc.Rel != "/x" {
		t.Errorf("unexpected: %+v, %v", loc, err)
	}
	if _, err := r.ResolveIn("a", "/b/x"); !errors.Is(err, ErrCrossRoot) {
		t.Errorf("expected ErrCrossRoot, got %v", err)
	}
	if _, err := r.ResolveIn("zzz", "/a/x"); !errors.Is(err, ErrNoRootFound) {
		t.Errorf("expected ErrNoRootFound for unknown key, got %v", err)
	}
	if _, err := r.ResolveIn("a", "/nowhere/x"); !errors.Is(err, ErrNoRootFound) {
		t.Errorf("expected ErrNoRootFound for unmapped path, got %v", err)
	}
}

func TestSlashRoot(t *testing.T) {
	r := mustRoots(t, Root{Key: "all", BasePath: "/", Type: StorageNative})

	loc, err := r.Resolve("/x/y.md")
	if err != nil || loc.Rel != "/x/y.md" || loc.Abs() != "/x/y.md" {
		t.Errorf("unexpected: %+v, %v", loc, err)
	}
	loc, _ = r.Resolve("/")
	if !loc.IsRoot() || loc.Abs() != "/" {
		t.Errorf("expected root location, got %+v", loc)
	}
}

func TestNewRootsValidation(t *testing.T) {
	tests := []struct {
		name  string
		roots []Root
	}{
		{"empty key", []Root{{Key: "", BasePath: "/a", Type: StorageNative}}},
		{"duplicate", []Root{{Key: "a", BasePath: "/a", Type: StorageNative}, {Key: "a", BasePath: "/b", Type: StorageNative}}},
		{"relative", []Root{{Key: "a", BasePath: "a", Type: StorageNative}}},
		{"bad type", []Root{{Key: "a", BasePath: "/a", Type: "s3"}}},
	}
	for _, tt := range tests {
		if _, err := NewRoots(tt.roots); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestSplitJoin(t *testing.T) {
	tests := []struct {
		rel, parent, name string
	}{
		{"", "", ""},
		{"/a", "", "a"},
		{"/a/b", "/a", "b"},
		{"/a/b/c.md", "/a/b", "c.md"},
	}
	for _, tt := range tests {
		parent, name := Split(tt.rel)
		if parent != tt.parent || name != tt.name {
			t.Errorf("Split(%q) = (%q, %q), want (%q, %q)", tt.rel, parent, name, tt.parent, tt.name)
		}
		if tt.rel != "" && Join(parent, name) != tt.rel {
			t.Errorf("Join(%q, %q) = %q, want %q", parent, name, Join(parent, name), tt.rel)
		}
	}

	if !IsWithin("/a/b", "/a") || !IsWithin("/a", "/a") || IsWithin("/ab", "/a") || !IsWithin("/x", "") {
		t.Error("IsWithin misbehaves")
	}
}

func TestTempName(t *testing.T) {
	name := TempName("reorder-0001_a.md")
	if name != ".doctree-reorder-0001_a.md.tmp" {
		t.Errorf("TempName = %q", name)
	}
	if !IsTemp(name) {
		t.Errorf("IsTemp(%q) = false", name)
	}
	for _, n := range []string{"0001_a.md", ".doctree-x", "x.tmp", ".hidden.tmp"} {
		if IsTemp(n) {
			t.Errorf("IsTemp(%q) = true", n)
		}
	}
}
