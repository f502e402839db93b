package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"

	"github.com/mrsinham/dicomiso/internal/export"
	"github.com/mrsinham/dicomiso/internal/staging"
)

var passTitles = map[string]string{
	staging.PassDICOM: "Copying DICOM files",
	staging.PassJPEG:  "Rendering JPEG previews",
}

// progressObserver draws one bar per staging pass and prints the summary
// of the run.
type progressObserver struct {
	out   io.Writer
	quiet bool

	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	pass string
}

var _ export.Observer = (*progressObserver)(nil)

func newProgressObserver(quiet bool) *progressObserver {
	return &progressObserver{out: ansi.NewAnsiStdout(), quiet: quiet}
}

func (p *progressObserver) ExportStarted(isoPath string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, "Exporting to %s\n", isoPath)
}

func (p *progressObserver) Progress(pass string, done, total int) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.pass != pass {
		p.finishBar()
		title, ok := passTitles[pass]
		if !ok {
			title = pass
		}
		p.pass = pass
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]"+title+"[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(p.out)
			}),
		)
	}
	_ = p.bar.Set(done)
}

// finishBar must be called with mu held.
func (p *progressObserver) finishBar() {
	if p.bar != nil && !p.bar.IsFinished() {
		_ = p.bar.Finish()
	}
	p.bar = nil
}

func (p *progressObserver) ExportStopped(sum export.Summary, err error) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	p.finishBar()
	p.mu.Unlock()

	if err != nil {
		return
	}
	fmt.Fprintf(p.out, "\n✓ %d DICOM files staged", sum.Staged)
	if sum.Duplicates > 0 {
		fmt.Fprintf(p.out, " (%d duplicate frames skipped)", sum.Duplicates)
	}
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "✓ DICOMDIR: %d patients, %d studies, %d series, %d instances, %d icons\n",
		sum.Directory.Patients, sum.Directory.Studies, sum.Directory.Series, sum.Directory.Instances, sum.Directory.Icons)
	if sum.JPEGWritten > 0 || sum.JPEGFailed > 0 {
		fmt.Fprintf(p.out, "✓ %d JPEG previews", sum.JPEGWritten)
		if sum.JPEGFailed > 0 {
			fmt.Fprintf(p.out, " (%d could not be rendered)", sum.JPEGFailed)
		}
		fmt.Fprintln(p.out)
	}
	if sum.ViewerFiles > 0 {
		fmt.Fprintf(p.out, "✓ Viewer: %d files\n", sum.ViewerFiles)
	}
	fmt.Fprintf(p.out, "  Duration: %s\n", sum.Duration.Round(10*time.Millisecond))
}
