// Package isobuild turns a staging directory into an ISO9660 image, either
// with an external mastering tool or with a pure Go writer.
package isobuild

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/failure"
)

// Builder names.
const (
	NameAuto   = "auto"
	NameExec   = "exec"
	NameNative = "native"
)

// Candidates are the mastering tools looked up on PATH, in order.
var Candidates = []string{"xorriso", "genisoimage", "mkisofs"}

// Options describe the image to produce.
type Options struct {
	VolumeLabel      string
	Publisher        string
	DataPreparer     string
	RockRidge        bool
	Joliet           bool
	InterchangeLevel int
	ASCIIOnly        bool
	MaxDirDepth      int
}

// DefaultOptions are the options of a DICOM export disc.
func DefaultOptions() Options {
	return Options{
		VolumeLabel:      "DICOM",
		Publisher:        "Weasis",
		DataPreparer:     "DICOM",
		RockRidge:        true,
		Joliet:           true,
		InterchangeLevel: 1,
		MaxDirDepth:      8,
	}
}

// Builder writes the ISO image of root to isoPath.
type Builder interface {
	Build(ctx context.Context, root, isoPath string, opts Options) error
	Name() string
}

// New returns the builder called name. For NameAuto the first mastering tool
// found on PATH is used, or the native writer when there is none. command
// overrides the tool looked up by NameExec and NameAuto.
func New(name, command string, log *zap.SugaredLogger) (Builder, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	switch name {
	case NameNative:
		return NewNativeBuilder(log), nil
	case NameExec, NameAuto, "":
		b, err := NewExecBuilder(command, log)
		if err == nil {
			return b, nil
		}
		if name == NameExec {
			return nil, err
		}
		log.Warnw("no ISO mastering tool found, using the native writer: long names are shortened and there is no Rock Ridge or Joliet",
			"error", err)
		return NewNativeBuilder(log), nil
	default:
		return nil, fmt.Errorf("unknown ISO builder %q (want %s, %s or %s)", name, NameAuto, NameExec, NameNative)
	}
}

// CheckDepth fails when a directory below root is nested deeper than
// maxDepth levels, the root directory being level 1.
func CheckDepth(root string, maxDepth int) error {
	if maxDepth <= 0 {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		depth := 1
		if rel != "." {
			depth += len(strings.Split(filepath.ToSlash(rel), "/"))
		}
		if depth > maxDepth {
			return fmt.Errorf("directory %s is nested %d levels deep, limit is %d", rel, depth, maxDepth)
		}
		return nil
	})
}

// build runs the checks shared by every builder around write, and removes
// a partial image when write fails.
func build(ctx context.Context, root, isoPath string, opts Options, write func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckDepth(root, opts.MaxDirDepth); err != nil {
		return failure.New(failure.KindBuild, "check depth", root, err)
	}
	if err := os.MkdirAll(filepath.Dir(isoPath), 0755); err != nil {
		return failure.New(failure.KindBuild, "create directory", filepath.Dir(isoPath), err)
	}

	if err := write(); err != nil {
		_ = os.Remove(isoPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return failure.New(failure.KindBuild, "build", isoPath, err)
	}

	info, err := os.Stat(isoPath)
	if err != nil {
		return failure.New(failure.KindBuild, "build", isoPath, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(isoPath)
		return failure.New(failure.KindBuild, "build", isoPath, errors.New("empty image"))
	}
	return nil
}
