package isobuild

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/kdomanski/iso9660"
	"go.uber.org/zap"
)

// NativeBuilder writes plain ISO9660 images with kdomanski/iso9660. It
// writes neither Rock Ridge nor Joliet records, so names longer than the
// ISO9660 identifier limits are shortened and keep a hash of the full name.
// Two files that would still get the same identifier fail the build.
type NativeBuilder struct {
	log *zap.SugaredLogger
}

func NewNativeBuilder(log *zap.SugaredLogger) *NativeBuilder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NativeBuilder{log: log}
}

func (b *NativeBuilder) Name() string {
	return NameNative
}

func (b *NativeBuilder) Build(ctx context.Context, root, imagePath string, opts Options) error {
	if opts.RockRidge || opts.Joliet {
		b.log.Debugw("native ISO writer ignores Rock Ridge and Joliet", "rockRidge", opts.RockRidge, "joliet", opts.Joliet)
	}
	return build(ctx, root, imagePath, opts, func() error {
		w, err := iso9660.NewWriter()
		if err != nil {
			return fmt.Errorf("create writer: %w", err)
		}
		defer func() { _ = w.Cleanup() }()

		files, shortened := 0, 0
		// identifier on the image -> staged path
		names := make(map[string]string)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			target := isoPath(rel)
			if target != rel {
				shortened++
			}
			key := d1Path(target)
			if other, ok := names[key]; ok {
				return fmt.Errorf("%s and %s have the same ISO9660 name %s", other, rel, key)
			}
			names[key] = rel
			if err := addFile(w, path, target); err != nil {
				return err
			}
			files++
			return nil
		})
		if err != nil {
			return err
		}

		out, err := os.OpenFile(imagePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if err := w.WriteTo(out, opts.VolumeLabel); err != nil {
			_ = out.Close()
			return fmt.Errorf("write image: %w", err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		b.log.Debugw("native ISO written", "path", imagePath, "files", files, "shortened", shortened)
		return nil
	})
}

func addFile(w *iso9660.ImageWriter, path, target string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := w.AddFile(f, target); err != nil {
		return fmt.Errorf("add %s: %w", target, err)
	}
	return nil
}

// Identifier limits of the writer, ECMA-119 7.5 and 7.6.3. A file name
// also carries ";1".
const (
	maxDirIdentifier  = 31
	maxFileIdentifier = 28
	maxExtension      = 8
)

const d1Chars = "abcdefghijklmnopqrstuvwxyz0123456789_!\"%&'()*+,-./:;<=>?"

// isoPath shortens every component of rel the writer would truncate.
func isoPath(rel string) string {
	parts := strings.Split(rel, "/")
	last := len(parts) - 1
	for i, p := range parts[:last] {
		parts[i] = shortenName(p, maxDirIdentifier)
	}
	ext := path.Ext(parts[last])
	if ext == "" || len(ext)-1 > maxExtension {
		parts[last] = shortenName(parts[last], maxFileIdentifier)
	} else {
		parts[last] = shortenName(strings.TrimSuffix(parts[last], ext), maxFileIdentifier-len(ext)) + ext
	}
	return strings.Join(parts, "/")
}

// shortenName cuts name to max bytes, the last 9 being "-" and the FNV-1a
// hash of the full name.
func shortenName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	keep := max - 9
	for keep > 0 && !utf8.RuneStart(name[keep]) {
		keep--
	}
	return fmt.Sprintf("%s-%08X", name[:keep], h.Sum32())
}

// d1Path is the path the writer records for rel: lowercased, d-characters
// only, dots of a file name folded but the last.
func d1Path(rel string) string {
	parts := strings.Split(rel, "/")
	last := len(parts) - 1
	for i, p := range parts[:last] {
		parts[i] = d1String(p, maxDirIdentifier)
	}
	split := strings.Split(strings.ToLower(parts[last]), ".")
	if len(split) == 1 {
		parts[last] = d1String(split[0], maxFileIdentifier)
	} else {
		ext := d1String(split[len(split)-1], maxExtension)
		max := maxFileIdentifier
		if ext != "" {
			max -= 1 + len(ext)
		}
		parts[last] = d1String(strings.Join(split[:len(split)-1], "_"), max)
		if ext != "" {
			parts[last] += "." + ext
		}
	}
	return strings.Join(parts, "/")
}

func d1String(s string, max int) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for i := 0; i < len(s) && i < max; i++ {
		if strings.IndexByte(d1Chars, s[i]) >= 0 {
			b.WriteByte(s[i])
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
