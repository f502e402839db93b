package isobuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/mrsinham/dicomiso/internal/failure"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestCheckDepth(t *testing.T) {
	root := writeTree(t, map[string]string{
		"DICOMDIR":                     "x",
		"DICOM/P/ST/SE/00000001":       "x",
		"JPEG/P/ST/SE/00001.jpg":       "x",
		"viewer/a/b/c/d/e/f/deep.file": "x",
	})

	tests := []struct {
		name    string
		max     int
		wantErr bool
	}{
		{"default limit", 8, false},
		{"exact", 8, false},
		{"too shallow", 7, true},
		{"disabled", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDepth(root, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckDepth(max=%d) error = %v, wantErr %v", tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestExecBuilder_Args(t *testing.T) {
	opts := DefaultOptions()

	x := &ExecBuilder{path: "/usr/bin/xorriso"}
	args := x.Args("/stage", "/out/disc.iso", opts)
	want := []string{"-as", "mkisofs", "-o", "/out/disc.iso", "-V", "DICOM", "-publisher", "Weasis",
		"-p", "DICOM", "-R", "-J", "-iso-level", "1", "-input-charset", "utf-8", "/stage"}
	if !slices.Equal(args, want) {
		t.Errorf("xorriso args = %v\nwant %v", args, want)
	}

	g := &ExecBuilder{path: "/usr/bin/genisoimage"}
	opts.RockRidge = false
	opts.ASCIIOnly = true
	opts.InterchangeLevel = 3
	opts.MaxDirDepth = 12
	args = g.Args("/stage", "/out/disc.iso", opts)
	if args[0] != "-o" {
		t.Errorf("genisoimage args start with %q", args[0])
	}
	for _, a := range []string{"-R", "-input-charset"} {
		if slices.Contains(args, a) {
			t.Errorf("unexpected %s in %v", a, args)
		}
	}
	for _, a := range []string{"-joliet-long", "-D"} {
		if !slices.Contains(args, a) {
			t.Errorf("missing %s in %v", a, args)
		}
	}
}

func TestExecBuilder_Build(t *testing.T) {
	root := writeTree(t, map[string]string{"DICOMDIR": "x", "DICOM/A/B/C/D": "x"})
	iso := filepath.Join(t.TempDir(), "out", "disc.iso")

	var calls int
	b := &ExecBuilder{path: "/usr/bin/xorriso", run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		calls++
		if args[len(args)-1] != root {
			t.Errorf("last argument = %s, want staging root", args[len(args)-1])
		}
		return []byte("xorriso : UPDATE : done"), os.WriteFile(iso, []byte("CD001"), 0644)
	}}
	if err := b.Build(context.Background(), root, iso, DefaultOptions()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if calls != 1 {
		t.Errorf("runner called %d times", calls)
	}
	if b.Name() != "xorriso" {
		t.Errorf("Name = %s", b.Name())
	}
}

func TestExecBuilder_FailureRemovesPartialImage(t *testing.T) {
	root := writeTree(t, map[string]string{"DICOMDIR": "x"})
	iso := filepath.Join(t.TempDir(), "disc.iso")

	b := &ExecBuilder{path: "/usr/bin/mkisofs", run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		_ = os.WriteFile(iso, []byte("partial"), 0644)
		return []byte("Using DICOMDIR\nmkisofs: No space left on device."), errors.New("exit status 1")
	}}
	err := b.Build(context.Background(), root, iso, DefaultOptions())
	if !errors.Is(err, failure.ErrBuild) {
		t.Fatalf("err = %v, want build failure", err)
	}
	if !strings.Contains(err.Error(), "No space left") {
		t.Errorf("error does not quote the tool output: %v", err)
	}
	if _, statErr := os.Stat(iso); !os.IsNotExist(statErr) {
		t.Error("partial image left behind")
	}
}

func TestBuild_DepthAndCancel(t *testing.T) {
	root := writeTree(t, map[string]string{"a/b/c/d/e/f/g/h/i": "x"})
	iso := filepath.Join(t.TempDir(), "disc.iso")
	b := &ExecBuilder{path: "mkisofs", run: func(context.Context, string, ...string) ([]byte, error) {
		t.Error("tool must not run")
		return nil, nil
	}}

	if err := b.Build(context.Background(), root, iso, DefaultOptions()); !errors.Is(err, failure.ErrBuild) {
		t.Errorf("deep tree: err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Build(ctx, root, iso, DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}

func TestNativeBuilder(t *testing.T) {
	root := writeTree(t, map[string]string{
		"DICOMDIR": "index",
		"DICOM/0A1B2C3D/1A2B3C4D/2A3B4C5D/3A4B5C6D": "instance",
	})
	iso := filepath.Join(t.TempDir(), "disc.iso")

	b := NewNativeBuilder(nil)
	if err := b.Build(context.Background(), root, iso, DefaultOptions()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := os.Open(iso)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	img, err := iso9660.OpenImage(f)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	rootDir, err := img.RootDir()
	if err != nil {
		t.Fatal(err)
	}
	children, err := rootDir.GetChildren()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range children {
		name, _, _ := strings.Cut(c.Name(), ";")
		names = append(names, strings.ToUpper(strings.TrimSuffix(name, ".")))
	}
	for _, want := range []string{"DICOMDIR", "DICOM"} {
		if !slices.Contains(names, want) {
			t.Errorf("root entries %v miss %s", names, want)
		}
	}
	t.Logf("✓ native image with %d root entries", len(names))
}

// isoFiles lists the file paths of an image, upper-cased and without
// version numbers.
func isoFiles(t *testing.T, iso string) []string {
	t.Helper()
	f, err := os.Open(iso)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	img, err := iso9660.OpenImage(f)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	rootDir, err := img.RootDir()
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	var walk func(dir *iso9660.File, prefix string)
	walk = func(dir *iso9660.File, prefix string) {
		children, err := dir.GetChildren()
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range children {
			name, _, _ := strings.Cut(c.Name(), ";")
			name = strings.ToUpper(strings.TrimSuffix(name, "."))
			if c.IsDir() {
				walk(c, prefix+name+"/")
				continue
			}
			out = append(out, prefix+name)
		}
	}
	walk(rootDir, "")
	slices.Sort(out)
	return out
}

func TestNativeBuilder_LongNames(t *testing.T) {
	// two series whose labels only differ in the hash suffix past 31 characters
	a := "JPEG/DOE JOHN P1/BRAIN/Sagittal T1 weighted localiz...-1A2B3C4D/00001.jpg"
	b := "JPEG/DOE JOHN P1/BRAIN/Sagittal T1 weighted localiz...-5E6F7A8B/00001.jpg"
	root := writeTree(t, map[string]string{a: "first", b: "second"})
	iso := filepath.Join(t.TempDir(), "disc.iso")

	if err := NewNativeBuilder(nil).Build(context.Background(), root, iso, DefaultOptions()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	files := isoFiles(t, iso)
	if len(files) != 2 || files[0] == files[1] {
		t.Fatalf("image files = %v, want 2 distinct previews", files)
	}
	for _, f := range files {
		for _, c := range strings.Split(f, "/") {
			if len(c) > 31 {
				t.Errorf("%s: component %q longer than 31 characters", f, c)
			}
		}
	}
	t.Logf("✓ %v", files)
}

func TestNativeBuilder_NameCollision(t *testing.T) {
	root := writeTree(t, map[string]string{
		"viewer/A B.txt": "space",
		"viewer/A_B.txt": "underscore",
	})
	iso := filepath.Join(t.TempDir(), "disc.iso")

	err := NewNativeBuilder(nil).Build(context.Background(), root, iso, DefaultOptions())
	if !errors.Is(err, failure.ErrBuild) {
		t.Fatalf("err = %v, want build failure", err)
	}
	if _, statErr := os.Stat(iso); !os.IsNotExist(statErr) {
		t.Error("partial image left behind")
	}
}

func TestIsoPath(t *testing.T) {
	long := strings.Repeat("x", 40)
	tests := []struct {
		name string
		rel  string
		same bool
	}{
		{"file ID tree", "DICOM/0A1B2C3D/1A2B3C4D/2A3B4C5D/3A4B5C6D", true},
		{"DICOMDIR", "DICOMDIR", true},
		{"short preview", "JPEG/DOE JOHN/BRAIN/1 T1-0A1B2C3D/00001-F2.jpg", true},
		{"long directory", "JPEG/" + long + "/00001.jpg", false},
		{"long file", "viewer/" + long + ".jar", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isoPath(tt.rel)
			if (got == tt.rel) != tt.same {
				t.Errorf("isoPath(%q) = %q", tt.rel, got)
			}
			if d1Path(got) != d1Path(isoPath(tt.rel)) {
				t.Error("isoPath not deterministic")
			}
			parts := strings.Split(got, "/")
			for _, p := range parts[:len(parts)-1] {
				if len(p) > maxDirIdentifier {
					t.Errorf("directory %q too long", p)
				}
			}
			if f := parts[len(parts)-1]; len(f) > maxFileIdentifier {
				t.Errorf("file %q too long", f)
			}
		})
	}

	if got := isoPath("viewer/" + long + ".jar"); !strings.HasSuffix(got, ".jar") {
		t.Errorf("extension lost: %q", got)
	}
	if isoPath("JPEG/"+long+"a/1.jpg") == isoPath("JPEG/"+long+"b/1.jpg") {
		t.Error("names differing past the limit collapsed")
	}
}

func TestNew(t *testing.T) {
	b, err := New(NameNative, "", nil)
	if err != nil || b.Name() != NameNative {
		t.Errorf("New(native) = %v, %v", b, err)
	}
	if _, err := New("cdrecord", "", nil); err == nil {
		t.Error("unknown builder accepted")
	}
	if _, err := New(NameExec, "definitely-not-an-iso-tool", nil); err == nil {
		t.Error("missing tool accepted for exec builder")
	}
	b, err = New(NameAuto, "definitely-not-an-iso-tool", nil)
	if err != nil || b.Name() != NameNative {
		t.Errorf("auto without tool = %v, %v, want native fallback", b, err)
	}
}
