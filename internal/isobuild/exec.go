package isobuild

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// ExecBuilder runs xorriso, genisoimage or mkisofs.
type ExecBuilder struct {
	path string
	log  *zap.SugaredLogger
	run  runFunc
}

// NewExecBuilder resolves command, or the first of Candidates, on PATH.
func NewExecBuilder(command string, log *zap.SugaredLogger) (*ExecBuilder, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	names := Candidates
	if command != "" {
		names = []string{command}
	}
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			return &ExecBuilder{path: p, log: log, run: runCommand}, nil
		}
	}
	return nil, fmt.Errorf("none of %s found on PATH", strings.Join(names, ", "))
}

func (b *ExecBuilder) Name() string {
	return filepath.Base(b.path)
}

// Args returns the command line for building root into isoPath. xorriso is
// driven through its mkisofs emulation.
func (b *ExecBuilder) Args(root, isoPath string, opts Options) []string {
	var args []string
	if strings.HasPrefix(b.Name(), "xorriso") {
		args = append(args, "-as", "mkisofs")
	}
	args = append(args, "-o", isoPath)
	if opts.VolumeLabel != "" {
		args = append(args, "-V", opts.VolumeLabel)
	}
	if opts.Publisher != "" {
		args = append(args, "-publisher", opts.Publisher)
	}
	if opts.DataPreparer != "" {
		args = append(args, "-p", opts.DataPreparer)
	}
	if opts.RockRidge {
		args = append(args, "-R")
	}
	if opts.Joliet {
		args = append(args, "-J")
		if opts.InterchangeLevel >= 3 {
			args = append(args, "-joliet-long")
		}
	}
	if opts.InterchangeLevel > 0 {
		args = append(args, "-iso-level", strconv.Itoa(opts.InterchangeLevel))
	}
	if !opts.ASCIIOnly {
		args = append(args, "-input-charset", "utf-8")
	}
	if opts.MaxDirDepth > 8 {
		// the depth was checked; do not relocate deep directories
		args = append(args, "-D")
	}
	return append(args, root)
}

// Build runs the mastering tool. Its output is logged at debug level and
// quoted in the error when it fails.
func (b *ExecBuilder) Build(ctx context.Context, root, isoPath string, opts Options) error {
	return build(ctx, root, isoPath, opts, func() error {
		args := b.Args(root, isoPath, opts)
		b.log.Debugw("running ISO builder", "command", b.path, "args", args)
		out, err := b.run(ctx, b.path, args...)
		if len(out) > 0 {
			b.log.Debugw("ISO builder output", "command", b.Name(), "output", string(out))
		}
		if err != nil {
			return fmt.Errorf("%s: %w: %s", b.Name(), err, lastLine(out))
		}
		return nil
	})
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}
