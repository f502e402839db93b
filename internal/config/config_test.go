package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomiso/internal/bundle"
	"github.com/mrsinham/dicomiso/internal/isobuild"
	"github.com/mrsinham/dicomiso/internal/util"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "dicomiso.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	opts := cfg.ISOOptions()
	if opts != isobuild.DefaultOptions() {
		t.Errorf("ISOOptions = %+v", opts)
	}
	if !cfg.Export.JPEG || !cfg.Export.Viewer || cfg.Export.JPEGQuality != 90 {
		t.Errorf("export defaults = %+v", cfg.Export)
	}
	if cfg.Viewer.Archive != bundle.DefaultArchive {
		t.Errorf("viewer archive = %s", cfg.Viewer.Archive)
	}
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `
export:
  jpeg: false
  jpeg_quality: 75
iso:
  volume_label: STUDY_CD
  builder: native
viewer:
  dir: /opt/weasis
dicomdir:
  fileset_id: CARDIO
  extra_keys:
    series: [SeriesDescription, bodypartexamined]
    image: [Rows]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Export.JPEG || cfg.Export.JPEGQuality != 75 {
		t.Errorf("export = %+v", cfg.Export)
	}
	if !cfg.Export.Viewer {
		t.Error("keys absent from the file must keep their default")
	}
	if cfg.ISO.VolumeLabel != "STUDY_CD" || cfg.ISO.Publisher != "Weasis" || cfg.ISO.MaxDirDepth != 8 {
		t.Errorf("iso = %+v", cfg.ISO)
	}

	extra, err := cfg.ExtraTags()
	if err != nil {
		t.Fatal(err)
	}
	if got := extra[util.LevelSeries]; len(got) != 2 || got[0] != tag.SeriesDescription || got[1] != tag.BodyPartExamined {
		t.Errorf("series keys = %v", got)
	}
	if got := extra[util.LevelInstance]; len(got) != 1 || got[0] != tag.Rows {
		t.Errorf("image keys = %v", got)
	}

	src, err := cfg.ViewerSource()
	if err != nil {
		t.Fatal(err)
	}
	if d, ok := src.(bundle.DirSource); !ok || d.Dir != "/opt/weasis" {
		t.Errorf("viewer source = %#v", src)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"quality too low", func(c *Config) { c.Export.JPEGQuality = 0 }, "jpeg_quality"},
		{"quality too high", func(c *Config) { c.Export.JPEGQuality = 101 }, "jpeg_quality"},
		{"interchange level", func(c *Config) { c.ISO.InterchangeLevel = 4 }, "interchange_level"},
		{"depth", func(c *Config) { c.ISO.MaxDirDepth = 0 }, "max_dir_depth"},
		{"builder", func(c *Config) { c.ISO.Builder = "cdrecord" }, "iso.builder"},
		{"unknown level", func(c *Config) { c.DICOMDIR.ExtraKeys = map[string][]string{"frame": {"Rows"}} }, "unknown record level"},
		{"misspelled key", func(c *Config) {
			c.DICOMDIR.ExtraKeys = map[string][]string{"series": {"SeriesDescripton"}}
		}, `did you mean "SeriesDescription"`},
		{"wrong level", func(c *Config) { c.DICOMDIR.ExtraKeys = map[string][]string{"patient": {"Rows"}} }, "belongs to IMAGE records"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeConfig(t, "export: [not, a, map]")); err == nil {
		t.Error("malformed file accepted")
	}
	if _, err := Load(writeConfig(t, "export:\n  jpeg_quality: 500\n")); err == nil {
		t.Error("invalid quality accepted")
	}
}

func TestViewerSource_None(t *testing.T) {
	src, err := Default().ViewerSource()
	if err != nil || src != nil {
		t.Errorf("ViewerSource = %v, %v, want nil", src, err)
	}
}
