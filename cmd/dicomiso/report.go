package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/DavidGamba/go-getoptions"
	"github.com/dustin/go-humanize"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomiso/internal/dicomdir"
	"github.com/mrsinham/dicomiso/internal/selection"
)

func scanCommand(parent *getoptions.GetOpt, g *globalOptions) {
	var manifest string
	cmd := parent.NewCommand("scan", "list the patients, studies and series found in a directory")
	cmd.StringVar(&manifest, "manifest", "", cmd.Alias("m"), cmd.ArgName("file"),
		cmd.Description("only list what this YAML manifest selects"))
	cmd.SetCommandFn(func(ctx context.Context, opt *getoptions.GetOpt, args []string) error {
		src, err := oneArg("scan", args)
		if err != nil {
			return err
		}
		log, err := g.logger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		snap, err := loadSelection(ctx, src, manifest, log)
		if err != nil {
			return err
		}
		printSnapshot(os.Stdout, snap)
		return nil
	})
}

// printSnapshot writes the hierarchy of snap with the on-disk size of each
// series. Frames of one file are counted once.
func printSnapshot(w io.Writer, snap *selection.Snapshot) {
	var studies, series int
	var total uint64
	tree := snap.Tree()
	for _, p := range tree {
		fmt.Fprintf(w, "%s\n", p.Label)
		for _, st := range p.Studies {
			studies++
			fmt.Fprintf(w, "  %s\n", st.Label)
			for _, se := range st.Series {
				series++
				size := filesSize(se.Images)
				total += size
				fmt.Fprintf(w, "    %s: %d images, %s\n", se.Label, len(se.Images), humanize.Bytes(size))
			}
		}
	}
	fmt.Fprintf(w, "\n✓ %d patients, %d studies, %d series, %d images (%s)\n",
		len(tree), studies, series, snap.Len(), humanize.Bytes(total))
}

func filesSize(images []selection.ImageRef) uint64 {
	seen := make(map[string]bool, len(images))
	var size uint64
	for _, ref := range images {
		if seen[ref.SourcePath] {
			continue
		}
		seen[ref.SourcePath] = true
		if info, err := os.Stat(ref.SourcePath); err == nil {
			size += uint64(info.Size())
		}
	}
	return size
}

func inspectCommand(parent *getoptions.GetOpt) {
	cmd := parent.NewCommand("inspect", "print the record tree of a DICOMDIR")
	cmd.SetCommandFn(func(ctx context.Context, opt *getoptions.GetOpt, args []string) error {
		path, err := oneArg("inspect", args)
		if err != nil {
			return err
		}
		if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
			path = filepath.Join(path, dicomdir.FileName)
		}
		dir, err := dicomdir.Read(path)
		if err != nil {
			return err
		}
		printDirectory(os.Stdout, dir)
		return nil
	})
}

func printDirectory(w io.Writer, dir *dicomdir.Directory) {
	fmt.Fprintf(w, "File-set %q (%s)\n", dir.FileSetID, dir.FileSetUID)
	for _, root := range dir.Roots {
		root.Walk(func(rec *dicomdir.Record, depth int) {
			fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", depth+1), rec.Type, describe(rec))
		})
	}
}

func describe(rec *dicomdir.Record) string {
	switch rec.Type {
	case dicomdir.TypePatient:
		return fmt.Sprintf("%s [%s]", rec.Value(tag.PatientName), rec.Value(tag.PatientID))
	case dicomdir.TypeStudy:
		return fmt.Sprintf("%s %s [%s]", rec.Value(tag.StudyDate), rec.Value(tag.StudyDescription), rec.Value(tag.StudyInstanceUID))
	case dicomdir.TypeSeries:
		s := fmt.Sprintf("%s #%s [%s]", rec.Value(tag.Modality), rec.Value(tag.SeriesNumber), rec.Value(tag.SeriesInstanceUID))
		if rec.HasIcon() {
			s += " (icon)"
		}
		return s
	}
	var parts []string
	for _, v := range rec.Values(tag.ReferencedFileID) {
		parts = append(parts, strings.TrimSpace(v))
	}
	return strings.Join(parts, `\`)
}
