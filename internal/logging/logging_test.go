package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dicomiso.log")
	log, err := New(false, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debugw("staged", "sop", "1.2.3")
	log.Infow("export done", "files", 3)
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{`"msg":"staged"`, `"sop":"1.2.3"`, `"msg":"export done"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log file misses %s:\n%s", want, out)
		}
	}
}

func TestNew_BadLogFile(t *testing.T) {
	if _, err := New(true, filepath.Join(t.TempDir(), "missing", "dir", "x.log")); err == nil {
		t.Error("expected error for unwritable log file")
	}
}

func TestQuiet(t *testing.T) {
	log := Quiet()
	if log.Desugar().Core().Enabled(zapcore.WarnLevel) {
		t.Error("quiet logger must not log warnings")
	}
}
