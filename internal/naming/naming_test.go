package naming

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mrsinham/dicomiso/internal/dicomtest"
	"github.com/mrsinham/dicomiso/internal/selection"
)

var fileIDPattern = regexp.MustCompile(`^[0-9A-F]{8}$`)

func testRef() selection.ImageRef {
	return selection.ImageRef{
		SOPInstanceUID:    "1.2.3.4.5.6",
		SeriesInstanceUID: "1.2.3.4.5",
		StudyInstanceUID:  "1.2.3.4",
		PatientPseudoUID:  "ABCDEF0123456789",
		InstanceNumber:    7,
		HasInstanceNumber: true,
	}
}

func TestInstanceName(t *testing.T) {
	tests := []struct {
		name string
		n    int
		has  bool
		want string
	}{
		{"pads single digit", 7, true, "00007"},
		{"keeps five digits", 12345, true, "12345"},
		{"never shortens", 1234567, true, "1234567"},
		{"zero", 0, true, "00000"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ref := testRef()
			ref.InstanceNumber, ref.HasInstanceNumber = tc.n, tc.has
			if got := InstanceName(ref); got != tc.want {
				t.Errorf("InstanceName(%d) = %q, want %q", tc.n, got, tc.want)
			}
		})
	}

	ref := testRef()
	ref.HasInstanceNumber = false
	if got := InstanceName(ref); got != FileID(ref.SOPInstanceUID) {
		t.Errorf("missing instance number: got %q, want FileID of SOP UID", got)
	}
}

func TestSegments_Deterministic(t *testing.T) {
	ref := testRef()
	labels := selection.Labels{Patient: "DOE JOHN P1", Study: "BRAIN", Series: "1 T1 AX"}
	for _, mode := range []Mode{Anonymized, HumanReadable} {
		t.Run(mode.String(), func(t *testing.T) {
			a := Segments(ref, labels, mode)
			b := Segments(ref, labels, mode)
			if strings.Join(a, "/") != strings.Join(b, "/") {
				t.Errorf("Segments not deterministic: %v vs %v", a, b)
			}
			if len(a) != 4 {
				t.Errorf("got %d segments, want 4", len(a))
			}
		})
	}
}

func TestSegments_Anonymized(t *testing.T) {
	ref := testRef()
	segs := Segments(ref, selection.Labels{Patient: "DOE JOHN"}, Anonymized)
	for _, s := range segs {
		if !fileIDPattern.MatchString(s) {
			t.Errorf("segment %q is not an 8-char file ID", s)
		}
		if strings.Contains(s, "DOE") {
			t.Errorf("anonymized segment leaks label: %q", s)
		}
	}
	other := ref
	other.SOPInstanceUID = "1.2.3.4.5.7"
	if Segments(other, selection.Labels{}, Anonymized)[3] == segs[3] {
		t.Error("distinct SOP Instance UIDs with the same instance number must not collide")
	}
}

func TestSeriesSegment_Truncation(t *testing.T) {
	long := strings.Repeat("A", 40)
	a := SeriesSegment(long, "1.2.3.1")
	b := SeriesSegment(long, "1.2.3.2")

	prefix := strings.Repeat("A", 27) + "..."
	if !strings.HasPrefix(a, prefix+"-") {
		t.Errorf("SeriesSegment = %q, want prefix %q", a, prefix+"-")
	}
	if a == b {
		t.Error("series with colliding truncated labels must stay distinct")
	}
	if n := utf8.RuneCountInString(a); n != 30+1+8 {
		t.Errorf("length = %d, want 39", n)
	}

	short := SeriesSegment("3 T2", "1.2.3.1")
	if short != "3 T2-"+FileID("1.2.3.1") {
		t.Errorf("short label = %q", short)
	}

	exact := strings.Repeat("B", 30)
	if got := SeriesSegment(exact, "x"); !strings.HasPrefix(got, exact+"-") {
		t.Errorf("30-char label should not be truncated: %q", got)
	}
}

func TestSeriesSegment_RuneSafe(t *testing.T) {
	label := strings.Repeat("é", 35)
	got := SeriesSegment(label, "1")
	if !utf8.ValidString(got) {
		t.Errorf("truncation split a rune: %q", got)
	}
}

func TestSanitize(t *testing.T) {
	for _, name := range append(dicomtest.ReservedCharDescriptions, dicomtest.SpecialCharNames...) {
		got := Sanitize(name)
		if strings.ContainsAny(got, `<>:"/\|?*`) {
			t.Errorf("Sanitize(%q) = %q still has reserved characters", name, got)
		}
		if got == "" {
			t.Errorf("Sanitize(%q) is empty", name)
		}
	}

	tests := []struct{ in, want string }{
		{"  BRAIN  ", "BRAIN"},
		{"a/b", "a_b"},
		{"tab\there", "tab_here"},
		{"...", "_"},
		{"", "_"},
		{"é", "é"},
	}
	for _, tc := range tests {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPaths(t *testing.T) {
	ref := testRef()
	labels := selection.Labels{Patient: "DOE JOHN P1", Study: "BRAIN", Series: "1 T1"}

	d := DICOMPath(ref)
	parts := strings.Split(filepath.ToSlash(d), "/")
	if parts[0] != DICOMRoot || len(parts) != 5 {
		t.Errorf("DICOMPath = %q", d)
	}
	for _, p := range parts {
		if !ValidFileIDComponent(p) {
			t.Errorf("DICOMPath component %q is not a valid file ID", p)
		}
	}

	j := filepath.ToSlash(JPEGPath(ref, labels))
	want := "JPEG/DOE JOHN P1/BRAIN/1 T1-" + FileID(ref.SeriesInstanceUID) + "/00007.jpg"
	if j != want {
		t.Errorf("JPEGPath = %q, want %q", j, want)
	}

	frame := ref
	frame.Frame = 2
	if got := filepath.Base(JPEGPath(frame, labels)); got != "00007-F3.jpg" {
		t.Errorf("JPEGPath of third frame ends with %q", got)
	}

	long := selection.Labels{Patient: dicomtest.LongNames[0] + dicomtest.LongNames[1]}
	seg := Segments(ref, long, HumanReadable)[0]
	if utf8.RuneCountInString(seg) > 64 {
		t.Errorf("patient segment not bounded: %d", utf8.RuneCountInString(seg))
	}

	byID := filepath.ToSlash(JPEGPathByFileID(frame, labels))
	wantByID := "JPEG/DOE JOHN P1/BRAIN/1 T1-" + FileID(ref.SeriesInstanceUID) + "/" + FileID(ref.SOPInstanceUID) + "-F3.jpg"
	if byID != wantByID {
		t.Errorf("JPEGPathByFileID = %q, want %q", byID, wantByID)
	}

	empty := Segments(ref, selection.Labels{}, HumanReadable)
	if empty[0] != FileID(ref.PatientPseudoUID) {
		t.Errorf("empty label should fall back to FileID, got %q", empty[0])
	}
}

func TestFileID(t *testing.T) {
	if FileID("1.2.3") != FileID("1.2.3") {
		t.Error("FileID not deterministic")
	}
	if FileID("1.2.3") == FileID("1.2.4") {
		t.Error("FileID collision on trivial input")
	}
	if !fileIDPattern.MatchString(FileID("")) {
		t.Errorf("FileID(\"\") = %q", FileID(""))
	}
}

func TestValidFileIDComponent(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"DICOM", true},
		{"0A1B2C3D", true},
		{"IM_1", true},
		{"", false},
		{"123456789", false},
		{"lower", false},
		{"DOE JOHN", false},
		{"1 T1-AB", false},
	}
	for _, tc := range tests {
		if got := ValidFileIDComponent(tc.in); got != tc.want {
			t.Errorf("ValidFileIDComponent(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSanitize_NormalizationForm(t *testing.T) {
	precomposed := "Ren\u00e9e"
	decomposed := "Rene\u0301e"
	if Sanitize(precomposed) != Sanitize(decomposed) {
		t.Errorf("Sanitize(%q) = %q, Sanitize(%q) = %q", precomposed, Sanitize(precomposed), decomposed, Sanitize(decomposed))
	}
	if got := Sanitize(decomposed); got != precomposed {
		t.Errorf("decomposed label not composed: %q", got)
	}
	// Compatibility characters are kept.
	if got := Sanitize("\uFB01le"); got != "\uFB01le" {
		t.Errorf("ligature folded: %q", got)
	}
	t.Logf("✓ %q and %q give the same segment", precomposed, decomposed)
}
