package bundle

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/failure"
)

// Extract unpacks the zip archive r into dest and returns the paths written.
// Entries escaping dest are rejected and macOS metadata entries skipped.
func Extract(r io.ReaderAt, size int64, dest string) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var written []string
	prefix := filepath.Clean(dest) + string(os.PathSeparator)
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "__MACOSX") {
			continue
		}
		p := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(p, prefix) {
			return written, fmt.Errorf("%s: illegal file path", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(p, 0755); err != nil {
				return written, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return written, err
		}
		if err := extractFile(f, p); err != nil {
			return written, err
		}
		written = append(written, p)
	}
	return written, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// Install fetches the archive name from src and extracts it into dest. A
// missing archive, or a nil src, is logged as a warning and the export goes
// on without the viewer. It returns the number of files installed.
func Install(ctx context.Context, src Source, name, dest string, log *zap.SugaredLogger) (int, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if src == nil {
		log.Warnw("viewer bundle skipped: no resource location configured", "archive", name)
		return 0, nil
	}

	a, err := src.Open(ctx, name)
	if err != nil {
		if errors.Is(err, failure.ErrResourceMissing) {
			log.Warnw("viewer bundle not found, continuing without it", "archive", name, "source", src.String(), "error", err)
			return 0, nil
		}
		return 0, failure.New(failure.KindCopy, "fetch viewer", name, err)
	}
	defer func() { _ = a.Close() }()

	files, err := Extract(a, a.Size(), dest)
	if err != nil {
		return len(files), failure.New(failure.KindCopy, "extract viewer", name, err)
	}
	log.Infow("viewer bundle installed", "archive", name, "source", src.String(), "files", len(files))
	return len(files), nil
}
