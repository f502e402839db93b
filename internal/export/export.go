// Package export runs a complete disc export: staging the selection,
// indexing it in a DICOMDIR, rendering previews, installing the viewer and
// building the ISO image.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/bundle"
	"github.com/mrsinham/dicomiso/internal/config"
	"github.com/mrsinham/dicomiso/internal/dicomdir"
	"github.com/mrsinham/dicomiso/internal/failure"
	"github.com/mrsinham/dicomiso/internal/isobuild"
	"github.com/mrsinham/dicomiso/internal/metrics"
	"github.com/mrsinham/dicomiso/internal/render"
	"github.com/mrsinham/dicomiso/internal/selection"
	"github.com/mrsinham/dicomiso/internal/staging"
	"github.com/mrsinham/dicomiso/internal/util"
)

// ErrEmptySelection is returned when there is nothing to export.
var ErrEmptySelection = errors.New("nothing selected for export")

// Options are fixed for the duration of one export.
type Options struct {
	JPEG          bool
	JPEGQuality   int
	Viewer        bool
	ViewerArchive string
	ISO           isobuild.Options
	// TempDir is the parent of the staging directory; empty means os.TempDir.
	TempDir   string
	FileSetID string
	ExtraKeys map[util.RecordLevel][]tag.Tag
	IconSize  int
}

// OptionsFromConfig converts a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	extra, err := cfg.ExtraTags()
	if err != nil {
		return Options{}, err
	}
	return Options{
		JPEG:          cfg.Export.JPEG,
		JPEGQuality:   cfg.Export.JPEGQuality,
		Viewer:        cfg.Export.Viewer,
		ViewerArchive: cfg.Viewer.Archive,
		ISO:           cfg.ISOOptions(),
		TempDir:       cfg.Staging.TempDir,
		FileSetID:     cfg.DICOMDIR.FileSetID,
		ExtraKeys:     extra,
		IconSize:      cfg.Render.IconSize,
	}, nil
}

// Summary describes a finished run.
type Summary struct {
	ISOPath     string
	Staged      int
	Duplicates  int
	JPEGWritten int
	JPEGFailed  int
	ViewerFiles int
	Directory   dicomdir.Stats
	Duration    time.Duration
}

// Exporter runs exports. Renderer is used for previews and series icons;
// without one neither is produced. Viewer may be nil.
type Exporter struct {
	Options  Options
	Renderer render.Renderer
	Builder  isobuild.Builder
	Viewer   bundle.Source
	Log      *zap.SugaredLogger
	Metrics  *metrics.Metrics
	Observer Observer
}

func (e *Exporter) logger() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.NewNop().Sugar()
	}
	return e.Log
}

func (e *Exporter) observer() Observer {
	if e.Observer == nil {
		return NopObserver{}
	}
	return e.Observer
}

// Run exports snap to isoPath. The staging directory is removed before Run
// returns, whatever the outcome. Per-image preview failures are logged and
// do not fail the run.
func (e *Exporter) Run(ctx context.Context, snap *selection.Snapshot, isoPath string) (err error) {
	log := e.logger()
	obs := e.observer()
	m := e.Metrics
	if m == nil {
		m = metrics.Discard()
	}

	start := time.Now()
	sum := Summary{ISOPath: isoPath}
	obs.ExportStarted(isoPath)
	defer func() {
		sum.Duration = time.Since(start)
		result := metrics.ResultSuccess
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			result = metrics.ResultCancelled
			log.Warnw("export cancelled", "iso", isoPath, "error", err)
		case err != nil:
			result = metrics.ResultFailure
			log.Errorw("export failed", "iso", isoPath, "kind", failure.KindOf(err).String(), "error", err)
		default:
			log.Infow("export done", "iso", isoPath, "instances", sum.Staged, "previews", sum.JPEGWritten,
				"duration", sum.Duration.Round(time.Millisecond))
		}
		m.ObserveExport(result, start)
		obs.ExportStopped(sum, err)
	}()

	if snap == nil || snap.Len() == 0 {
		return ErrEmptySelection
	}
	if e.Builder == nil {
		return errors.New("no ISO builder configured")
	}

	root, err := makeStagingDir(e.Options.TempDir)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(root); rmErr != nil {
			log.Warnw("could not remove staging directory", "path", root, "error", rmErr)
		}
	}()
	log.Debugw("staging directory created", "path", root)

	stager := staging.New(root, e.Renderer, staging.Options{
		JPEGQuality: e.Options.JPEGQuality,
		Log:         log,
		Metrics:     m,
		Progress:    obs.Progress,
	})

	if err := e.stageDICOM(ctx, stager, snap, &sum); err != nil {
		return err
	}

	if e.Options.JPEG && e.Renderer != nil {
		res, err := stager.StageJPEG(ctx, snap)
		sum.JPEGWritten, sum.JPEGFailed = res.Written, res.Failed
		if err != nil {
			return wrapCancel(err)
		}
	}

	if e.Options.Viewer {
		archive := e.Options.ViewerArchive
		if archive == "" {
			archive = bundle.DefaultArchive
		}
		n, err := bundle.Install(ctx, e.Viewer, archive, root, log)
		sum.ViewerFiles = n
		if err != nil {
			return wrapCancel(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return wrapCancel(err)
	}
	log.Infow("building ISO image", "builder", e.Builder.Name(), "iso", isoPath)
	if err := e.Builder.Build(ctx, root, isoPath, e.Options.ISO); err != nil {
		return wrapCancel(err)
	}
	return nil
}

// stageDICOM runs the DICOM pass with the DICOMDIR builder as its sink.
// The DICOMDIR is closed whether or not the pass succeeds.
func (e *Exporter) stageDICOM(ctx context.Context, stager *staging.Stager, snap *selection.Snapshot, sum *Summary) error {
	dir, err := dicomdir.Open(stager.Root(), dicomdir.Options{
		FileSetID: e.Options.FileSetID,
		ExtraKeys: e.Options.ExtraKeys,
		IconSize:  e.Options.IconSize,
		Log:       e.logger(),
	})
	if err != nil {
		return err
	}

	res, stageErr := stager.StageDICOM(ctx, snap, func(ctx context.Context, f staging.Staged) error {
		var icon dicomdir.IconSource
		if f.FirstInSeries {
			icon = e.iconSource(snap, f.Ref)
		}
		return dir.AddInstance(ctx, f.RelPath, f.FirstInSeries, icon)
	})
	sum.Staged, sum.Duplicates = res.Written, res.Skipped

	closeErr := dir.Close()
	sum.Directory = dir.Stats()
	if stageErr != nil {
		return wrapCancel(stageErr)
	}
	return closeErr
}

// iconSource renders the image in the middle of ref's series.
func (e *Exporter) iconSource(snap *selection.Snapshot, ref selection.ImageRef) dicomdir.IconSource {
	if e.Renderer == nil {
		return nil
	}
	rep := ref
	if se, ok := snap.SeriesOf(ref); ok {
		if mid, ok := snap.RepresentativeInstance(se); ok {
			rep = mid
		}
	}
	return func(ctx context.Context) (image.Image, error) {
		defer e.Renderer.Release(rep)
		return e.Renderer.Render(ctx, rep)
	}
}

func makeStagingDir(parent string) (string, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	dir := filepath.Join(parent, "dicomiso-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return dir, nil
}

func wrapCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("export cancelled: %w", err)
	}
	return err
}
