package failure

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestNew_Nil(t *testing.T) {
	if err := New(KindCopy, "copy", "/x", nil); err != nil {
		t.Fatalf("New with nil error = %v, want nil", err)
	}
}

func TestError_IsAndKind(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
		fatal    bool
		name     string
	}{
		{KindRender, ErrRender, false, "RenderFailure"},
		{KindCopy, ErrCopy, true, "CopyFailure"},
		{KindDirectoryWrite, ErrDirectoryWrite, true, "DirectoryWriteFailure"},
		{KindBuild, ErrBuild, true, "BuildFailure"},
		{KindResourceMissing, ErrResourceMissing, false, "ResourceMissing"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := fmt.Errorf("run export: %w", New(tc.kind, "op", "p", os.ErrNotExist))
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tc.sentinel)
			}
			if !errors.Is(err, os.ErrNotExist) {
				t.Errorf("wrapped cause lost in %v", err)
			}
			if got := KindOf(err); got != tc.kind {
				t.Errorf("KindOf = %v, want %v", got, tc.kind)
			}
			if tc.kind.Fatal() != tc.fatal {
				t.Errorf("%v.Fatal() = %v, want %v", tc.kind, tc.kind.Fatal(), tc.fatal)
			}
			if tc.kind.String() != tc.name {
				t.Errorf("String() = %q, want %q", tc.kind.String(), tc.name)
			}
		})
	}
}

func TestError_DoesNotMatchOtherKinds(t *testing.T) {
	err := New(KindRender, "render", "", errors.New("boom"))
	if errors.Is(err, ErrCopy) {
		t.Error("render failure matched ErrCopy")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain error should have unknown kind")
	}
}
