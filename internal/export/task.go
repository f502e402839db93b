package export

import (
	"context"

	"github.com/mrsinham/dicomiso/internal/selection"
)

// Observer is notified of the lifecycle of a run. Calls come from the
// goroutine running the export.
type Observer interface {
	ExportStarted(isoPath string)
	Progress(pass string, done, total int)
	ExportStopped(sum Summary, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) ExportStarted(string)         {}
func (NopObserver) Progress(string, int, int)    {}
func (NopObserver) ExportStopped(Summary, error) {}

// Task is an export running in the background.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start runs the export in a new goroutine. Cancelling ctx or calling
// Task.Cancel stops it; the staging directory is still removed.
func (e *Exporter) Start(ctx context.Context, snap *selection.Snapshot, isoPath string) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = e.Run(ctx, snap, isoPath)
	}()
	return t
}

// Cancel asks the export to stop. It does not wait.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the export has finished and cleaned up.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the export finishes and returns its result.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
