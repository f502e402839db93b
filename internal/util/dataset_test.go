package util

import (
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomiso/internal/dicomtest"
)

func TestParseHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IM1")
	err := dicomtest.Write(path, dicomtest.Instance{
		PatientID:      "P1",
		InstanceNumber: 12,
		WindowCenter:   "40.5",
		WindowWidth:    "400",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	ds, err := ParseHeader(path)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	if got := String(ds, tag.PatientID); got != "P1" {
		t.Errorf("PatientID = %q, want P1", got)
	}
	if n, ok := Int(ds, tag.InstanceNumber); !ok || n != 12 {
		t.Errorf("InstanceNumber = %d,%v, want 12", n, ok)
	}
	if n, ok := Int(ds, tag.Rows); !ok || n != 32 {
		t.Errorf("Rows = %d,%v, want 32", n, ok)
	}
	if f, ok := Float(ds, tag.WindowCenter); !ok || f != 40.5 {
		t.Errorf("WindowCenter = %v,%v, want 40.5", f, ok)
	}
	if got := String(ds, tag.TransferSyntaxUID); got != dicomtest.ExplicitVRLittleEndian {
		t.Errorf("TransferSyntaxUID = %q", got)
	}
}

func TestParseHeader_TruncatedPixelData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "IM1")
	if err := dicomtest.Write(path, dicomtest.Instance{PatientID: "P9"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dicomtest.TruncatePixelData(path); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	ds, err := ParseHeader(path)
	if err != nil {
		t.Fatalf("ParseHeader should tolerate truncated pixel data: %v", err)
	}
	if got := String(ds, tag.PatientID); got != "P9" {
		t.Errorf("PatientID = %q", got)
	}
}

func TestParseHeader_NotDICOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	if err := dicomtest.WriteGarbage(path); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseHeader(path); err == nil {
		t.Error("expected error for non-DICOM file")
	}
}

func TestAccessors_Missing(t *testing.T) {
	ds := dicom.Dataset{}
	if String(ds, tag.PatientID) != "" {
		t.Error("missing string should be empty")
	}
	if _, ok := Int(ds, tag.InstanceNumber); ok {
		t.Error("missing int should not be ok")
	}
	if _, ok := Float(ds, tag.WindowWidth); ok {
		t.Error("missing float should not be ok")
	}
}
