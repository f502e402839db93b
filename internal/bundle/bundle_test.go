package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/mrsinham/dicomiso/internal/failure"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var viewerFiles = map[string]string{
	"viewer-win32.exe":              "exe",
	"autorun.inf":                   "[autorun]",
	"weasis/conf/config.properties": "a=b",
	"__MACOSX/._autorun.inf":        "junk",
}

func TestExtract(t *testing.T) {
	data := zipOf(t, viewerFiles)
	dest := t.TempDir()

	files, err := Extract(bytes.NewReader(data), int64(len(data)), dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("extracted %d files, want 3: %v", len(files), files)
	}
	got, err := os.ReadFile(filepath.Join(dest, "weasis", "conf", "config.properties"))
	if err != nil || string(got) != "a=b" {
		t.Errorf("nested file = %q, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "__MACOSX")); !os.IsNotExist(err) {
		t.Error("__MACOSX entries must be skipped")
	}
}

func TestExtract_RejectsZipSlip(t *testing.T) {
	data := zipOf(t, map[string]string{"../../evil.sh": "rm -rf /"})
	dest := filepath.Join(t.TempDir(), "stage")
	if _, err := Extract(bytes.NewReader(data), int64(len(data)), dest); err == nil {
		t.Fatal("expected illegal path error")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil.sh")); !os.IsNotExist(err) {
		t.Error("file written outside destination")
	}
}

func TestExtract_NotAZip(t *testing.T) {
	data := []byte("not a zip archive")
	if _, err := Extract(bytes.NewReader(data), int64(len(data)), t.TempDir()); err == nil {
		t.Error("expected error")
	}
}

func TestInstall_FromDir(t *testing.T) {
	resources := t.TempDir()
	if err := os.WriteFile(filepath.Join(resources, DefaultArchive), zipOf(t, viewerFiles), 0644); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()

	n, err := Install(context.Background(), DirSource{Dir: resources}, DefaultArchive, dest, nil)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if n != 3 {
		t.Errorf("installed %d files, want 3", n)
	}
	if _, err := os.Stat(filepath.Join(dest, "autorun.inf")); err != nil {
		t.Errorf("autorun.inf missing: %v", err)
	}
}

func TestInstall_MissingIsNotFatal(t *testing.T) {
	dest := t.TempDir()

	_, err := DirSource{Dir: t.TempDir()}.Open(context.Background(), DefaultArchive)
	if !errors.Is(err, failure.ErrResourceMissing) {
		t.Errorf("Open missing archive: err = %v, want resource missing", err)
	}

	for _, src := range []Source{DirSource{Dir: t.TempDir()}, nil} {
		n, err := Install(context.Background(), src, DefaultArchive, dest, nil)
		if err != nil || n != 0 {
			t.Errorf("Install(%v) = %d, %v, want 0, nil", src, n, err)
		}
	}
	entries, _ := os.ReadDir(dest)
	if len(entries) != 0 {
		t.Errorf("destination not empty: %d entries", len(entries))
	}
}

func TestInstall_CorruptArchiveIsFatal(t *testing.T) {
	resources := t.TempDir()
	if err := os.WriteFile(filepath.Join(resources, DefaultArchive), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Install(context.Background(), DirSource{Dir: resources}, DefaultArchive, t.TempDir(), nil)
	if !errors.Is(err, failure.ErrCopy) {
		t.Errorf("err = %v, want copy failure", err)
	}
}

// mockS3 serves objects from a map. Calls outside GetObjectWithContext hit
// the nil embedded interface and panic.
type mockS3 struct {
	s3iface.S3API
	objects map[string][]byte
	keys    []string
}

func (m *mockS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	key := aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)
	m.keys = append(m.keys, key)
	data, ok := m.objects[key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source(t *testing.T) {
	m := &mockS3{objects: map[string][]byte{
		"resources/weasis/" + DefaultArchive: zipOf(t, viewerFiles),
	}}
	src := NewS3Source(m, "resources", "weasis")
	if src.String() != "s3://resources/weasis" {
		t.Errorf("String = %s", src.String())
	}

	dest := t.TempDir()
	n, err := Install(context.Background(), src, DefaultArchive, dest, nil)
	if err != nil || n != 3 {
		t.Fatalf("Install = %d, %v", n, err)
	}
	if len(m.keys) != 1 || m.keys[0] != "resources/weasis/"+DefaultArchive {
		t.Errorf("requested keys = %v", m.keys)
	}

	if _, err := src.Open(context.Background(), "other.zip"); !errors.Is(err, failure.ErrResourceMissing) {
		t.Errorf("missing key: err = %v", err)
	}
	n, err = Install(context.Background(), src, "other.zip", dest, nil)
	if err != nil || n != 0 {
		t.Errorf("Install missing = %d, %v", n, err)
	}
}
