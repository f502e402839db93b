// Package config loads the export settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/suyashkumar/dicom/pkg/tag"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/dicomiso/internal/bundle"
	"github.com/mrsinham/dicomiso/internal/isobuild"
	"github.com/mrsinham/dicomiso/internal/render"
	"github.com/mrsinham/dicomiso/internal/util"
)

// Config is the complete export configuration.
type Config struct {
	Export   ExportConfig   `yaml:"export"`
	ISO      ISOConfig      `yaml:"iso"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	Staging  StagingConfig  `yaml:"staging"`
	Render   RenderConfig   `yaml:"render"`
	DICOMDIR DICOMDIRConfig `yaml:"dicomdir"`
}

// ExportConfig selects what goes on the disc.
type ExportConfig struct {
	JPEG        bool `yaml:"jpeg"`
	JPEGQuality int  `yaml:"jpeg_quality"`
	Viewer      bool `yaml:"viewer"`
}

// ISOConfig holds the image builder settings.
type ISOConfig struct {
	VolumeLabel      string `yaml:"volume_label"`
	Publisher        string `yaml:"publisher"`
	DataPreparer     string `yaml:"data_preparer"`
	RockRidge        bool   `yaml:"rock_ridge"`
	Joliet           bool   `yaml:"joliet"`
	InterchangeLevel int    `yaml:"interchange_level"`
	ASCIIOnly        bool   `yaml:"ascii_only"`
	MaxDirDepth      int    `yaml:"max_dir_depth"`
	Builder          string `yaml:"builder"`
	Command          string `yaml:"command,omitempty"`
}

// ViewerConfig locates the viewer archive, in a directory or an S3 bucket.
type ViewerConfig struct {
	Archive  string `yaml:"archive"`
	Dir      string `yaml:"dir,omitempty"`
	S3Bucket string `yaml:"s3_bucket,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty"`
	S3Region string `yaml:"s3_region,omitempty"`
}

type StagingConfig struct {
	// TempDir is the parent of staging directories; empty means the OS default.
	TempDir string `yaml:"temp_dir,omitempty"`
}

type RenderConfig struct {
	CacheSize int `yaml:"cache_size"`
	IconSize  int `yaml:"icon_size"`
}

type DICOMDIRConfig struct {
	FileSetID string `yaml:"fileset_id,omitempty"`
	// ExtraKeys maps a record level (patient, study, series, image) to
	// optional attribute names copied into records of that level.
	ExtraKeys map[string][]string `yaml:"extra_keys,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	iso := isobuild.DefaultOptions()
	return &Config{
		Export: ExportConfig{
			JPEG:        true,
			JPEGQuality: 90,
			Viewer:      true,
		},
		ISO: ISOConfig{
			VolumeLabel:      iso.VolumeLabel,
			Publisher:        iso.Publisher,
			DataPreparer:     iso.DataPreparer,
			RockRidge:        iso.RockRidge,
			Joliet:           iso.Joliet,
			InterchangeLevel: iso.InterchangeLevel,
			ASCIIOnly:        iso.ASCIIOnly,
			MaxDirDepth:      iso.MaxDirDepth,
			Builder:          isobuild.NameAuto,
		},
		Viewer: ViewerConfig{Archive: bundle.DefaultArchive},
		Render: RenderConfig{
			CacheSize: render.DefaultCacheSize,
			IconSize:  render.DefaultIconSize,
		},
	}
}

// Load reads path over the defaults and validates the result. Keys absent
// from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and names. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Export.JPEGQuality < 1 || c.Export.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("export.jpeg_quality must be between 1 and 100, got %d", c.Export.JPEGQuality))
	}
	if c.ISO.InterchangeLevel < 1 || c.ISO.InterchangeLevel > 3 {
		errs = append(errs, fmt.Errorf("iso.interchange_level must be 1, 2 or 3, got %d", c.ISO.InterchangeLevel))
	}
	if c.ISO.MaxDirDepth < 1 {
		errs = append(errs, fmt.Errorf("iso.max_dir_depth must be at least 1, got %d", c.ISO.MaxDirDepth))
	}
	switch c.ISO.Builder {
	case isobuild.NameAuto, isobuild.NameExec, isobuild.NameNative:
	default:
		errs = append(errs, fmt.Errorf("iso.builder must be %s, %s or %s, got %q",
			isobuild.NameAuto, isobuild.NameExec, isobuild.NameNative, c.ISO.Builder))
	}
	if c.Render.CacheSize < 0 || c.Render.IconSize < 0 {
		errs = append(errs, errors.New("render sizes must not be negative"))
	}
	if _, err := c.ExtraTags(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ExtraTags resolves dicomdir.extra_keys.
func (c *Config) ExtraTags() (map[util.RecordLevel][]tag.Tag, error) {
	if len(c.DICOMDIR.ExtraKeys) == 0 {
		return nil, nil
	}
	levels := make([]string, 0, len(c.DICOMDIR.ExtraKeys))
	for l := range c.DICOMDIR.ExtraKeys {
		levels = append(levels, l)
	}
	sort.Strings(levels)

	out := make(map[util.RecordLevel][]tag.Tag)
	for _, l := range levels {
		level, err := util.ParseRecordLevel(l)
		if err != nil {
			return nil, fmt.Errorf("dicomdir.extra_keys: %w", err)
		}
		for _, name := range c.DICOMDIR.ExtraKeys[l] {
			info, err := util.GetTagByName(name)
			if err != nil {
				return nil, fmt.Errorf("dicomdir.extra_keys.%s: %w", l, err)
			}
			if info.Level != level {
				return nil, fmt.Errorf("dicomdir.extra_keys.%s: %s belongs to %s records", l, info.Name, info.Level)
			}
			out[level] = append(out[level], info.Tag)
		}
	}
	return out, nil
}

// ISOOptions converts the iso section.
func (c *Config) ISOOptions() isobuild.Options {
	return isobuild.Options{
		VolumeLabel:      c.ISO.VolumeLabel,
		Publisher:        c.ISO.Publisher,
		DataPreparer:     c.ISO.DataPreparer,
		RockRidge:        c.ISO.RockRidge,
		Joliet:           c.ISO.Joliet,
		InterchangeLevel: c.ISO.InterchangeLevel,
		ASCIIOnly:        c.ISO.ASCIIOnly,
		MaxDirDepth:      c.ISO.MaxDirDepth,
	}
}

// ViewerSource returns where the viewer archive is fetched from, or nil when
// no location is configured.
func (c *Config) ViewerSource() (bundle.Source, error) {
	switch {
	case c.Viewer.S3Bucket != "":
		client, err := bundle.NewS3Client(c.Viewer.S3Region)
		if err != nil {
			return nil, err
		}
		return bundle.NewS3Source(client, c.Viewer.S3Bucket, c.Viewer.S3Prefix), nil
	case c.Viewer.Dir != "":
		return bundle.DirSource{Dir: c.Viewer.Dir}, nil
	}
	return nil, nil
}
