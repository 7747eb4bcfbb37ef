package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/vfs"
)

// newOSStore returns a store over two native roots in a temp dir.
func newOSStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	logging.InitNop()

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	for _, d := range []string{a, b} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	roots, err := vfs.NewRoots([]vfs.Root{
		{Key: "a", BasePath: a, Type: vfs.StorageNative},
		{Key: "b", BasePath: b, Type: vfs.StorageNative},
	})
	if err != nil {
		t.Fatalf("NewRoots: %v", err)
	}
	return NewOS(roots), a, b
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	data := []byte{0x00, 0xff, 'h', 'i', '\n', 0x7f}
	p := a + "/0001_note.md"
	if err := s.WriteFile(ctx, p, data); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := s.ReadFile(ctx, p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: %v != %v", got, data)
	}

	// Overwrite
	if err := s.WriteFile(ctx, p, []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.ReadFile(ctx, p)
	if string(got) != "second" {
		t.Errorf("expected overwritten content, got %q", got)
	}

	info, err := s.Stat(ctx, p)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsFile || info.IsDirectory || info.SizeBytes != 6 {
		t.Errorf("unexpected stat: %+v", info)
	}
}

func TestReaddirOrdinalOrder(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	for _, i := range []int{10, 2, 7, 1, 5} {
		name := fmt.Sprintf("%04d_file%d.md", i, i)
		if err := s.WriteFile(ctx, a+"/"+name, []byte(name)); err != nil {
			t.Fatal(err)
		}
	}
	names, err := s.Readdir(ctx, a)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	want := []string{"0001_file1.md", "0002_file2.md", "0005_file5.md", "0007_file7.md", "0010_file10.md"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for _, n := range names {
		_, base, err := vfs.OrdinalFormatV1.Parse(n)
		if err != nil || base[:4] != "file" {
			t.Errorf("unexpected base name %q for %q: %v", base, n, err)
		}
	}
}

func TestReaddirHidesScratchEntries(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	if err := s.WriteFile(ctx, a+"/0001_a.md", []byte("a")); err != nil {
		t.Fatal(err)
	}
	scratch := filepath.Join(a, vfs.TempName("reorder-0002_b.md"))
	if err := os.WriteFile(scratch, []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	names, err := s.Readdir(ctx, a)
	if err != nil {
		t.Fatalf("Readdir: %v", err)
	}
	if fmt.Sprint(names) != "[0001_a.md]" {
		t.Errorf("scratch entry listed: %v", names)
	}
}

func TestErrorsTaxonomy(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	if err := s.Mkdir(ctx, a+"/0001_dir", vfs.MkdirOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile(ctx, a+"/0002_file.md", []byte("x")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"stat missing", second(s.Stat(ctx, a+"/nope")), vfs.ErrNotFound},
		{"read dir", second(s.ReadFile(ctx, a+"/0001_dir")), vfs.ErrIsDirectory},
		{"read missing", second(s.ReadFile(ctx, a+"/nope")), vfs.ErrNotFound},
		{"readdir file", second(s.Readdir(ctx, a+"/0002_file.md")), vfs.ErrNotFound},
		{"readdir file not dir", second(s.Readdir(ctx, a+"/0002_file.md")), vfs.ErrNotDirectory},
		{"mkdir over file", s.Mkdir(ctx, a+"/0002_file.md", vfs.MkdirOptions{Recursive: true}), vfs.ErrAlreadyExists},
		{"mkdir existing", s.Mkdir(ctx, a+"/0001_dir", vfs.MkdirOptions{}), vfs.ErrAlreadyExists},
		{"mkdir under file", s.Mkdir(ctx, a+"/0002_file.md/sub", vfs.MkdirOptions{Recursive: true}), vfs.ErrNotDirectory},
		{"mkdir missing parent", s.Mkdir(ctx, a+"/x/y", vfs.MkdirOptions{}), vfs.ErrNotFound},
		{"write over dir", s.WriteFile(ctx, a+"/0001_dir", nil), vfs.ErrIsDirectory},
		{"unlink dir", s.Unlink(ctx, a+"/0001_dir"), vfs.ErrIsDirectory},
		{"rm dir without flags", s.Rm(ctx, a+"/0001_dir", vfs.RmOptions{}), vfs.ErrIsDirectory},
		{"rm missing", s.Rm(ctx, a+"/nope", vfs.RmOptions{}), vfs.ErrNotFound},
		{"outside roots", second(s.Stat(ctx, "/definitely/not/a/root")), vfs.ErrNoRootFound},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.err)
		}
	}

	if err := s.Rm(ctx, a+"/nope", vfs.RmOptions{Force: true}); err != nil {
		t.Errorf("forced rm of missing path should succeed, got %v", err)
	}
	if s.Exists(ctx, "/definitely/not/a/root") {
		t.Error("Exists outside roots should be false")
	}
}

func second(_ any, err error) error { return err }

func TestMkdirRecursive(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	if err := s.Mkdir(ctx, a+"/x/y/z", vfs.MkdirOptions{Recursive: true}); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := s.Mkdir(ctx, a+"/x/y/z", vfs.MkdirOptions{Recursive: true}); err != nil {
		t.Errorf("recursive mkdir of existing dir should succeed, got %v", err)
	}
	info, err := s.Stat(ctx, a+"/x/y/z")
	if err != nil || !info.IsDirectory {
		t.Errorf("expected directory, got %+v, %v", info, err)
	}
}

func TestRenameDirectoryMovesDescendants(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	if err := s.Mkdir(ctx, a+"/0001_old/0001_sub", vfs.MkdirOptions{Recursive: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile(ctx, a+"/0001_old/0001_sub/0001_leaf.md", []byte("leaf")); err != nil {
		t.Fatal(err)
	}

	if err := s.Rename(ctx, a+"/0001_old", a+"/0002_new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if s.Exists(ctx, a+"/0001_old") {
		t.Error("old directory still exists")
	}
	got, err := s.ReadFile(ctx, a+"/0002_new/0001_sub/0001_leaf.md")
	if err != nil || string(got) != "leaf" {
		t.Errorf("descendant not moved: %q, %v", got, err)
	}

	if err := s.Rename(ctx, a+"/0002_new", a+"/0002_new/0001_sub/inside"); !errors.Is(err, vfs.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation moving dir into itself, got %v", err)
	}
}

func TestRenameChecks(t *testing.T) {
	s, a, b := newOSStore(t)
	ctx := context.Background()

	s.WriteFile(ctx, a+"/0001_x.md", []byte("x"))
	s.WriteFile(ctx, a+"/0002_y.md", []byte("y"))

	if err := s.Rename(ctx, a+"/0001_x.md", b+"/0001_x.md"); !errors.Is(err, vfs.ErrCrossRoot) {
		t.Errorf("expected ErrCrossRoot, got %v", err)
	}
	if err := s.Rename(ctx, a+"/0001_x.md", a+"/0002_y.md"); !errors.Is(err, vfs.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if err := s.Rename(ctx, a+"/missing", a+"/0003_z.md"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Rename(ctx, a+"/missing", a+"/missing"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("expected ErrNotFound renaming a missing file onto itself, got %v", err)
	}
	if err := s.Rename(ctx, a+"/0001_x.md", a+"/0001_x.md"); err != nil {
		t.Errorf("renaming onto itself: %v", err)
	}
	if err := s.Rename(ctx, a+"/0001_x.md", a+"/nodir/0001_x.md"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing destination parent, got %v", err)
	}
}

func TestRmRecursive(t *testing.T) {
	s, a, _ := newOSStore(t)
	ctx := context.Background()

	s.Mkdir(ctx, a+"/d/e", vfs.MkdirOptions{Recursive: true})
	s.WriteFile(ctx, a+"/d/e/f.md", []byte("f"))

	if err := s.Rm(ctx, a+"/d", vfs.RmOptions{Recursive: true}); err != nil {
		t.Fatalf("Rm: %v", err)
	}
	if s.Exists(ctx, a+"/d") || s.Exists(ctx, a+"/d/e/f.md") {
		t.Error("tree not removed")
	}
	if err := s.Rm(ctx, a, vfs.RmOptions{Recursive: true}); !errors.Is(err, vfs.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation removing root, got %v", err)
	}
}

func TestAtomicUndoesRenamesOnFailure(t *testing.T) {
	logging.InitNop()
	roots, _ := vfs.NewRoots([]vfs.Root{{Key: "m", BasePath: "/m", Type: vfs.StorageNative}})
	mem := afero.NewMemMapFs()
	mem.MkdirAll("/m", 0755)
	s := New(mem, roots)
	ctx := context.Background()

	s.WriteFile(ctx, "/m/0001_a.md", []byte("a"))
	s.WriteFile(ctx, "/m/0002_b.md", []byte("b"))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(fsys vfs.FS) error {
		if err := fsys.Rename(ctx, "/m/0001_a.md", "/m/tmp"); err != nil {
			return err
		}
		if err := fsys.Rename(ctx, "/m/0002_b.md", "/m/0001_b.md"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	names, _ := s.Readdir(ctx, "/m")
	if fmt.Sprint(names) != "[0001_a.md 0002_b.md]" {
		t.Errorf("renames not undone: %v", names)
	}
}

func TestSearchModes(t *testing.T) {
	logging.InitNop()
	roots, _ := vfs.NewRoots([]vfs.Root{{Key: "m", BasePath: "/m", Type: vfs.StorageNative}})
	mem := afero.NewMemMapFs()
	mem.MkdirAll("/m/notes", 0755)
	s := New(mem, roots)
	ctx := context.Background()

	s.WriteFile(ctx, "/m/notes/0001_a.md", []byte("alpha beta 2024-01-02"))
	s.WriteFile(ctx, "/m/notes/0002_b.md", []byte("beta gamma"))
	s.WriteFile(ctx, "/m/0001_c.md", []byte("alpha 2023-05-06"))

	tests := []struct {
		name string
		q    vfs.SearchQuery
		want int
	}{
		{"any", vfs.SearchQuery{Query: "alpha gamma", Mode: vfs.SearchAny}, 3},
		{"all", vfs.SearchQuery{Query: "alpha beta", Mode: vfs.SearchAll}, 1},
		{"regex", vfs.SearchQuery{Query: `gam+a`, Mode: vfs.SearchRegex}, 1},
		{"subtree", vfs.SearchQuery{Query: "alpha", Mode: vfs.SearchAny, Subtree: "/notes"}, 1},
		{"require date", vfs.SearchQuery{Query: "beta", Mode: vfs.SearchAny, RequireDate: true}, 1},
		{"limit", vfs.SearchQuery{Query: "a", Mode: vfs.SearchAny, Limit: 2}, 2},
	}
	for _, tt := range tests {
		tt.q.RootKey = "m"
		rows, err := s.Search(ctx, tt.q)
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if len(rows) != tt.want {
			t.Errorf("%s: expected %d rows, got %d (%+v)", tt.name, tt.want, len(rows), rows)
		}
	}

	rows, _ := s.Search(ctx, vfs.SearchQuery{Query: "alpha", Mode: vfs.SearchAny, RootKey: "m", Order: vfs.OrderDate})
	if len(rows) != 2 || rows[0].FullPath != "/notes/0001_a.md" || rows[0].Date != "2024-01-02" {
		t.Errorf("unexpected date order: %+v", rows)
	}

	if _, err := s.Search(ctx, vfs.SearchQuery{Query: "(", Mode: vfs.SearchRegex, RootKey: "m"}); !errors.Is(err, vfs.ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation for bad regex, got %v", err)
	}
}
