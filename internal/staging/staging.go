// Package staging lays out the export tree: DICOM files copied under DICOM/
// and rendered previews under JPEG/.
package staging

import (
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/failure"
	"github.com/mrsinham/dicomiso/internal/metrics"
	"github.com/mrsinham/dicomiso/internal/naming"
	"github.com/mrsinham/dicomiso/internal/render"
	"github.com/mrsinham/dicomiso/internal/selection"
)

// Pass names reported to Progress.
const (
	PassDICOM = "dicom"
	PassJPEG  = "jpeg"
)

// DefaultJPEGQuality is used when Options.JPEGQuality is zero.
const DefaultJPEGQuality = 90

// Staged describes a DICOM file newly written to the staging tree.
type Staged struct {
	Ref selection.ImageRef
	// RelPath is relative to the staging root, with OS separators.
	RelPath string
	// FirstInSeries is set when this file created its series directory.
	FirstInSeries bool
}

// Sink is called for every staged file, in order. An error aborts the pass.
type Sink func(ctx context.Context, f Staged) error

// Options configure a Stager.
type Options struct {
	JPEGQuality int
	Log         *zap.SugaredLogger
	Metrics     *metrics.Metrics
	// Progress, when set, is called after each image of a pass.
	Progress func(pass string, done, total int)
}

// Result counts what a pass did.
type Result struct {
	Written int
	Skipped int
	Failed  int
}

// Stager populates one staging root. It holds the run's Deduplicator.
type Stager struct {
	root     string
	renderer render.Renderer
	opts     Options
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	dedup    *Deduplicator
	// jpegOwners maps a preview path to the SOP Instance UID written there.
	jpegOwners map[string]string
}

// New returns a Stager writing below root. renderer may be nil when the JPEG
// pass is never run.
func New(root string, renderer render.Renderer, opts Options) *Stager {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Discard()
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	return &Stager{
		root:     root,
		renderer: renderer,
		opts:     opts,
		log:      log,
		metrics:  m,
		dedup:    NewDeduplicator(),

		jpegOwners: make(map[string]string),
	}
}

// Root is the staging directory.
func (s *Stager) Root() string {
	return s.root
}

func (s *Stager) progress(pass string, done, total int) {
	if s.opts.Progress != nil {
		s.opts.Progress(pass, done, total)
	}
}

// StageDICOM copies every distinct instance of snap verbatim into the DICOM
// tree and hands each new file to sink. Refs whose SOP Instance UID was
// already staged are skipped. Copy failures and sink errors abort the pass.
func (s *Stager) StageDICOM(ctx context.Context, snap *selection.Snapshot, sink Sink) (Result, error) {
	var res Result
	images := snap.Images()
	for i, ref := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !s.dedup.ShouldWrite(ref.SOPInstanceUID) {
			res.Skipped++
			s.metrics.InstancesDuplicate.Inc()
			s.progress(PassDICOM, i+1, len(images))
			continue
		}

		rel := naming.DICOMPath(ref)
		dst := filepath.Join(s.root, rel)
		seriesDir := filepath.Dir(dst)

		_, statErr := os.Stat(seriesDir)
		firstInSeries := errors.Is(statErr, fs.ErrNotExist)
		if err := os.MkdirAll(seriesDir, 0755); err != nil {
			return res, failure.New(failure.KindCopy, "create directory", seriesDir, err)
		}

		// distinct SOP Instance UIDs hashing to the same file ID
		if _, err := os.Stat(dst); err == nil {
			return res, failure.New(failure.KindCopy, "copy", ref.SourcePath,
				fmt.Errorf("file ID %s already used in %s", filepath.Base(rel), filepath.Dir(rel)))
		}

		if err := copyFile(ref.SourcePath, dst); err != nil {
			return res, failure.New(failure.KindCopy, "copy", ref.SourcePath, err)
		}
		res.Written++
		s.metrics.InstancesStaged.Inc()

		if sink != nil {
			if err := sink(ctx, Staged{Ref: ref, RelPath: rel, FirstInSeries: firstInSeries}); err != nil {
				return res, err
			}
		}
		s.progress(PassDICOM, i+1, len(images))
	}
	s.log.Debugw("DICOM pass done", "written", res.Written, "duplicates", res.Skipped)
	return res, nil
}

// StageJPEG renders every ref of snap, duplicates included, into the JPEG
// tree. An image that fails to render is logged and skipped. Decoded data
// is released after each image.
func (s *Stager) StageJPEG(ctx context.Context, snap *selection.Snapshot) (Result, error) {
	var res Result
	if s.renderer == nil {
		return res, errors.New("no renderer configured")
	}
	images := snap.Images()
	for i, ref := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.writeJPEG(ctx, ref, snap.Labels(ref))
		s.renderer.Release(ref)
		switch {
		case err == nil:
			res.Written++
			s.metrics.JPEGWritten.Inc()
		case ctx.Err() != nil:
			return res, ctx.Err()
		case failure.KindOf(err) == failure.KindRender:
			res.Failed++
			s.metrics.RenderFailures.Inc()
			s.log.Warnw("preview skipped", "sop", ref.SOPInstanceUID, "frame", ref.Frame, "error", err)
		default:
			return res, err
		}
		s.progress(PassJPEG, i+1, len(images))
	}
	s.log.Debugw("JPEG pass done", "written", res.Written, "failed", res.Failed)
	return res, nil
}

func (s *Stager) writeJPEG(ctx context.Context, ref selection.ImageRef, labels selection.Labels) error {
	img, err := s.renderer.Render(ctx, ref)
	if err != nil {
		return err
	}
	rel := naming.JPEGPath(ref, labels)
	if owner, ok := s.jpegOwners[rel]; ok && owner != ref.SOPInstanceUID {
		// another instance of the series has the same instance number
		rel = naming.JPEGPathByFileID(ref, labels)
		s.log.Debugw("preview name taken, using file ID", "sop", ref.SOPInstanceUID, "owner", owner, "path", rel)
	}
	s.jpegOwners[rel] = ref.SOPInstanceUID
	dst := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return failure.New(failure.KindCopy, "create directory", filepath.Dir(dst), err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return failure.New(failure.KindCopy, "create", dst, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.opts.JPEGQuality}); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return failure.New(failure.KindRender, "encode", dst, err)
	}
	if err := f.Close(); err != nil {
		return failure.New(failure.KindCopy, "write", dst, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
