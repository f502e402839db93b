package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DavidGamba/go-getoptions"
	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/config"
	"github.com/mrsinham/dicomiso/internal/logging"
	"github.com/mrsinham/dicomiso/internal/selection"
)

var version = "dev"

// globalOptions are shared by every command.
type globalOptions struct {
	Debug   bool
	Quiet   bool
	LogFile string
	Config  string
}

func main() {
	os.Exit(program(os.Args))
}

func program(args []string) int {
	var g globalOptions

	opt := getoptions.New()
	opt.Self("dicomiso", "Export DICOM studies to an ISO disc image with a DICOMDIR index.")
	opt.SetUnknownMode(getoptions.Pass)
	opt.Bool("version", false, opt.Alias("v"),
		opt.Description("show version information"))
	opt.BoolVar(&g.Debug, "debug", false,
		opt.Description("show debug logs"))
	opt.BoolVar(&g.Quiet, "quiet", false, opt.Alias("q"),
		opt.Description("only print errors"))
	opt.StringVar(&g.LogFile, "log-file", "", opt.ArgName("file"),
		opt.Description("also write JSON logs to this file"))
	opt.StringVar(&g.Config, "config", "", opt.Alias("c"), opt.ArgName("file"),
		opt.Description("YAML configuration file"))

	exportCommand(opt, &g)
	scanCommand(opt, &g)
	inspectCommand(opt)
	opt.HelpCommand("help", opt.Alias("h", "?"))

	remaining, err := opt.Parse(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opt.Called("version") {
		fmt.Printf("dicomiso %s\n", version)
		return 0
	}
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, opt.Help())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := opt.Dispatch(ctx, remaining); err != nil {
		if errors.Is(err, getoptions.ErrorHelpCalled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (g *globalOptions) logger() (*zap.SugaredLogger, error) {
	if g.Quiet && !g.Debug && g.LogFile == "" {
		return logging.Quiet(), nil
	}
	return logging.New(g.Debug, g.LogFile)
}

// loadConfig returns the configuration file merged over the defaults, or
// the defaults when no file is given.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	if g.Config == "" {
		return config.Default(), nil
	}
	return config.Load(g.Config)
}

// printf writes user-facing output unless --quiet is set.
func (g *globalOptions) printf(format string, a ...any) {
	if !g.Quiet {
		fmt.Printf(format, a...)
	}
}

// loadSelection scans src and narrows it down with the manifest, if any.
func loadSelection(ctx context.Context, src, manifest string, log *zap.SugaredLogger) (*selection.Snapshot, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", src)
	}

	snap, err := selection.Scan(ctx, src, log)
	if err != nil {
		return nil, err
	}
	if manifest == "" {
		return snap, nil
	}
	m, err := selection.LoadManifest(manifest)
	if err != nil {
		return nil, err
	}
	filtered := m.Filter(snap)
	log.Debugw("selection manifest applied", "manifest", manifest, "before", snap.Len(), "after", filtered.Len())
	return filtered, nil
}

func oneArg(command string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes exactly one argument, got %d", command, len(args))
	}
	return args[0], nil
}
