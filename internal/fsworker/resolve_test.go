package fsworker

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/infodancer/httpd/internal/wire"
)

func TestMatch(t *testing.T) {
	locations := []wire.Location{
		{Path: "/", Blocked: false},
		{Path: "/home/", Blocked: true},
		{Path: "/home/shared/", Blocked: false},
	}

	tests := []struct {
		name    string
		path    string
		want    string // matched location path; "" = no match
		blocked bool
	}{
		{name: "root", path: "/tmp/normalstuff", want: "/", blocked: false},
		{name: "longest wins over shorter allow", path: "/home/user/secret", want: "/home/", blocked: true},
		{name: "longest wins over blocked parent", path: "/home/shared/pub.txt", want: "/home/shared/", blocked: false},
		{name: "prefix must include separator", path: "/homestead", want: "/", blocked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := match(locations, tt.path)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("match(%q) = %v, want nil", tt.path, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("match(%q) = nil, want %q", tt.path, tt.want)
			}
			if got.Path != tt.want {
				t.Errorf("match(%q).Path = %q, want %q", tt.path, got.Path, tt.want)
			}
			if got.Blocked != tt.blocked {
				t.Errorf("match(%q).Blocked = %v, want %v", tt.path, got.Blocked, tt.blocked)
			}
		})
	}
}

func TestMatchNone(t *testing.T) {
	locations := []wire.Location{{Path: "/srv/www/", Blocked: false}}
	if got := match(locations, "/etc/passwd"); got != nil {
		t.Errorf("match outside all locations = %v, want nil", got)
	}
}

func TestMatchFirstWinsOnEqualPrefix(t *testing.T) {
	locations := []wire.Location{
		{Path: "/a/", Blocked: true},
		{Path: "/a/", Blocked: false},
	}
	got := match(locations, "/a/file")
	if got == nil || !got.Blocked {
		t.Errorf("match = %v, want the first (blocked) location", got)
	}
}

// testWorker builds a Worker rooted at a fresh temp directory with the
// given locations (paths relative to the root).
func testWorker(t *testing.T, locations []wire.Location) (*Worker, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	resolved := make([]wire.Location, len(locations))
	for i, l := range locations {
		resolved[i] = wire.Location{Path: root + l.Path, Blocked: l.Blocked}
	}
	return &Worker{locations: resolved, logger: discardLogger()}, root
}

func TestOpenRegularFile(t *testing.T) {
	w, root := testWorker(t, []wire.Location{{Path: "/", Blocked: false}})

	path := filepath.Join(root, "index.html")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	resp, f := w.open(path)
	if resp.Kind != wire.KindFile {
		t.Fatalf("Kind = %d, want KindFile (resp %+v)", resp.Kind, resp)
	}
	if f == nil {
		t.Fatal("no file returned for KindFile")
	}
	defer f.Close()

	if resp.File == nil || resp.File.Name != path {
		t.Errorf("File = %+v, want name %q", resp.File, path)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("file content = %q, want %q", data, "hi")
	}
}

func TestOpenDirectory(t *testing.T) {
	w, root := testWorker(t, []wire.Location{{Path: "/", Blocked: false}})

	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(sub, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	resp, f := w.open(sub)
	if f != nil {
		f.Close()
		t.Error("directory response carried a file")
	}
	if resp.Kind != wire.KindDir {
		t.Fatalf("Kind = %d, want KindDir (resp %+v)", resp.Kind, resp)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(resp.Entries))
	}
	if resp.Entries[0].Name != "a.txt" || resp.Entries[1].Name != "b.txt" {
		t.Errorf("Entries = %v, want a.txt, b.txt", resp.Entries)
	}
}

func TestOpenErrors(t *testing.T) {
	w, root := testWorker(t, []wire.Location{
		{Path: "/", Blocked: false},
		{Path: "/private/", Blocked: true},
	})

	private := filepath.Join(root, "private")
	if err := os.Mkdir(private, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(private, "secret"), []byte("s"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name string
		path string
		want wire.ErrorKind
	}{
		{name: "missing", path: filepath.Join(root, "missing"), want: wire.ErrNotFound},
		{name: "blocked location", path: filepath.Join(private, "secret"), want: wire.ErrNotAllowed},
		{name: "outside all locations", path: "/", want: wire.ErrNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, f := w.open(tt.path)
			if f != nil {
				f.Close()
				t.Error("error response carried a file")
			}
			if resp.Kind != wire.KindError {
				t.Fatalf("Kind = %d, want KindError (resp %+v)", resp.Kind, resp)
			}
			if resp.Err != tt.want {
				t.Errorf("Err = %d, want %d", resp.Err, tt.want)
			}
		})
	}
}

func TestOpenSymlinkEscape(t *testing.T) {
	w, root := testWorker(t, []wire.Location{{Path: "/", Blocked: false}})

	outside, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	target := filepath.Join(outside, "loot")
	if err := os.WriteFile(target, []byte("loot"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	link := filepath.Join(root, "escape")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	resp, f := w.open(link)
	if f != nil {
		f.Close()
		t.Error("escape response carried a file")
	}
	if resp.Kind != wire.KindError || resp.Err != wire.ErrNotAllowed {
		t.Errorf("symlink escape = %+v, want NotAllowed", resp)
	}
}

func TestOpenDotDotEscape(t *testing.T) {
	parent, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	root := filepath.Join(parent, "root")
	outside := filepath.Join(parent, "outside")
	for _, dir := range []string{root, outside} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("Mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(outside, "loot"), []byte("loot"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w := &Worker{
		locations: []wire.Location{{Path: root + "/", Blocked: false}},
		logger:    discardLogger(),
	}

	// Matching happens on the canonical form, so the traversal lands
	// outside every configured location.
	sneaky := root + "/../outside/loot"
	resp, f := w.open(sneaky)
	if f != nil {
		f.Close()
		t.Error("traversal response carried a file")
	}
	if resp.Kind != wire.KindError || resp.Err != wire.ErrNotAllowed {
		t.Errorf("dot-dot escape = %+v, want NotAllowed", resp)
	}
}
