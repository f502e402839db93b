package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/DavidGamba/go-getoptions"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrsinham/dicomiso/internal/bundle"
	"github.com/mrsinham/dicomiso/internal/config"
	"github.com/mrsinham/dicomiso/internal/export"
	"github.com/mrsinham/dicomiso/internal/isobuild"
	"github.com/mrsinham/dicomiso/internal/metrics"
	"github.com/mrsinham/dicomiso/internal/render"
)

type exportOptions struct {
	Output      string
	Manifest    string
	NoJPEG      bool
	NoViewer    bool
	Quality     int
	Builder     string
	ViewerDir   string
	MetricsFile string
}

func exportCommand(parent *getoptions.GetOpt, g *globalOptions) {
	var o exportOptions
	cmd := parent.NewCommand("export", "stage a DICOM directory and build an ISO image from it")
	cmd.StringVar(&o.Output, "output", "", cmd.Alias("o"), cmd.ArgName("iso"),
		cmd.Description("ISO image to write"))
	cmd.StringVar(&o.Manifest, "manifest", "", cmd.Alias("m"), cmd.ArgName("file"),
		cmd.Description("YAML manifest of the patients, studies, series or instances to keep"))
	cmd.BoolVar(&o.NoJPEG, "no-jpeg", false,
		cmd.Description("do not add JPEG previews"))
	cmd.BoolVar(&o.NoViewer, "no-viewer", false,
		cmd.Description("do not add the viewer"))
	cmd.IntVar(&o.Quality, "quality", config.Default().Export.JPEGQuality, cmd.ArgName("1-100"),
		cmd.Description("JPEG quality"))
	cmd.StringVar(&o.Builder, "builder", "", cmd.ArgName("auto|exec|native"),
		cmd.Description("ISO builder, overrides iso.builder"))
	cmd.StringVar(&o.ViewerDir, "viewer-dir", "", cmd.ArgName("dir"),
		cmd.Description("directory holding the viewer archive, overrides viewer.dir"))
	cmd.StringVar(&o.MetricsFile, "metrics-file", "", cmd.ArgName("file"),
		cmd.Description("write Prometheus metrics to this file after the run"))
	cmd.SetCommandFn(func(ctx context.Context, opt *getoptions.GetOpt, args []string) error {
		src, err := oneArg("export", args)
		if err != nil {
			return err
		}
		if o.Output == "" {
			return errors.New("--output is required")
		}
		return runExport(ctx, g, &o, opt.Called("quality"), src)
	})
}

// applyFlags overrides cfg with the command line.
func (o *exportOptions) applyFlags(cfg *config.Config, qualitySet bool) error {
	if qualitySet {
		cfg.Export.JPEGQuality = o.Quality
	}
	if o.NoJPEG {
		cfg.Export.JPEG = false
	}
	if o.NoViewer {
		cfg.Export.Viewer = false
	}
	if o.Builder != "" {
		cfg.ISO.Builder = o.Builder
	}
	if o.ViewerDir != "" {
		cfg.Viewer.Dir = o.ViewerDir
	}
	return cfg.Validate()
}

func runExport(ctx context.Context, g *globalOptions, o *exportOptions, qualitySet bool, src string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := o.applyFlags(cfg, qualitySet); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	log, err := g.logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts, err := export.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	builder, err := isobuild.New(cfg.ISO.Builder, cfg.ISO.Command, log)
	if err != nil {
		return err
	}
	renderer, err := render.NewDicomRenderer(cfg.Render.CacheSize)
	if err != nil {
		return err
	}
	var viewer bundle.Source
	if cfg.Export.Viewer {
		if viewer, err = cfg.ViewerSource(); err != nil {
			return err
		}
	}

	g.printf("dicomiso\n========\n\n")
	g.printf("Scanning %s...\n", src)
	snap, err := loadSelection(ctx, src, o.Manifest, log)
	if err != nil {
		return err
	}
	if snap.Len() == 0 {
		return fmt.Errorf("no DICOM images found in %s", src)
	}
	g.printf("✓ %d images selected\n\n", snap.Len())

	reg := prometheus.NewRegistry()
	e := &export.Exporter{
		Options:  opts,
		Renderer: renderer,
		Builder:  builder,
		Viewer:   viewer,
		Log:      log,
		Metrics:  metrics.New(reg),
		Observer: newProgressObserver(g.Quiet),
	}

	task := e.Start(ctx, snap, o.Output)
	select {
	case <-task.Done():
	case <-ctx.Done():
		g.printf("\nInterrupted, cleaning up...\n")
	}
	err = task.Wait()

	if o.MetricsFile != "" {
		if mErr := metrics.WriteFile(o.MetricsFile, reg); mErr != nil {
			log.Warnw("could not write metrics", "path", o.MetricsFile, "error", mErr)
		}
	}
	if err != nil {
		return err
	}

	g.printf("\n✓ Export complete!\n")
	g.printf("  ISO image: %s", o.Output)
	if info, statErr := os.Stat(o.Output); statErr == nil {
		g.printf(" (%s)", humanize.Bytes(uint64(info.Size())))
	}
	g.printf("\n")
	return nil
}
