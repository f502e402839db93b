// Package naming derives the staging paths of exported images.
//
// Every function here is pure: the same ref, labels and mode always give the
// same path, which deduplication and re-runs rely on. The DICOM tree is
// always anonymized; human-readable names only apply to the JPEG tree.
package naming

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/mrsinham/dicomiso/internal/selection"
)

// Mode selects how path segments are derived.
type Mode int

const (
	// Anonymized segments are hashes of UIDs.
	Anonymized Mode = iota
	// HumanReadable segments are sanitized display labels.
	HumanReadable
)

func (m Mode) String() string {
	if m == HumanReadable {
		return "human-readable"
	}
	return "anonymized"
}

// Staging tree roots.
const (
	DICOMRoot = "DICOM"
	JPEGRoot  = "JPEG"
	JPEGExt   = ".jpg"
)

const (
	maxSeriesLabel   = 30
	seriesLabelKeep  = 27
	ellipsis         = "..."
	maxLabelSegment  = 64
	instanceNumWidth = 5
)

// FileID hashes a UID into 8 uppercase hexadecimal characters, a valid DICOM
// file ID component and ISO9660 level 1 name.
func FileID(uid string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uid))
	return fmt.Sprintf("%08X", h.Sum32())
}

// InstanceName is the instance number left-padded to 5 digits, or the
// FileID of the SOP Instance UID when the number is absent.
func InstanceName(ref selection.ImageRef) string {
	if ref.HasInstanceNumber && ref.InstanceNumber >= 0 {
		return fmt.Sprintf("%0*d", instanceNumWidth, ref.InstanceNumber)
	}
	return FileID(ref.SOPInstanceUID)
}

// Segments returns the patient, study, series and instance segments of ref.
//
// In anonymized mode the instance segment is the FileID of the SOP Instance
// UID, so that distinct instances never share a path even when their
// instance numbers collide.
func Segments(ref selection.ImageRef, labels selection.Labels, mode Mode) []string {
	if mode == HumanReadable {
		return []string{
			labelSegment(labels.Patient, ref.PatientPseudoUID),
			labelSegment(labels.Study, ref.StudyInstanceUID),
			SeriesSegment(labels.Series, ref.SeriesInstanceUID),
			InstanceName(ref),
		}
	}
	return []string{
		FileID(ref.PatientPseudoUID),
		FileID(ref.StudyInstanceUID),
		FileID(ref.SeriesInstanceUID),
		FileID(ref.SOPInstanceUID),
	}
}

// DICOMPath is the path of ref below the staging root in the DICOM tree. It
// is always anonymized: the components become the Referenced File ID of the
// DICOMDIR, which only allows 8 characters of A-Z, 0-9 and '_'.
func DICOMPath(ref selection.ImageRef) string {
	return filepath.Join(append([]string{DICOMRoot}, Segments(ref, selection.Labels{}, Anonymized)...)...)
}

// ValidFileIDComponent reports whether s may be a Referenced File ID
// component.
func ValidFileIDComponent(s string) bool {
	if s == "" || len(s) > 8 {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// JPEGPath is the human-readable path of ref's preview below the staging root.
// Frames after the first of a multiframe instance get a "-F<n>" suffix.
func JPEGPath(ref selection.ImageRef, labels selection.Labels) string {
	return jpegPath(ref, labels, InstanceName(ref))
}

// JPEGPathByFileID is JPEGPath with the FileID of the SOP Instance UID as
// file name, for instances whose number is already taken in the series.
func JPEGPathByFileID(ref selection.ImageRef, labels selection.Labels) string {
	return jpegPath(ref, labels, FileID(ref.SOPInstanceUID))
}

func jpegPath(ref selection.ImageRef, labels selection.Labels, name string) string {
	segs := Segments(ref, labels, HumanReadable)
	segs[len(segs)-1] = name
	if ref.Frame > 0 {
		segs[len(segs)-1] += fmt.Sprintf("-F%d", ref.Frame+1)
	}
	segs[len(segs)-1] += JPEGExt
	return filepath.Join(append([]string{JPEGRoot}, segs...)...)
}

// SeriesSegment sanitizes label, shortens it to 27 characters plus an
// ellipsis when it is longer than 30, and appends "-" and the FileID of the
// series UID so that series with the same shortened label stay distinct.
func SeriesSegment(label, seriesUID string) string {
	s := []rune(Sanitize(label))
	if len(s) > maxSeriesLabel {
		s = append(s[:seriesLabelKeep], []rune(ellipsis)...)
	}
	return string(s) + "-" + FileID(seriesUID)
}

func labelSegment(label, uid string) string {
	s := []rune(Sanitize(label))
	if len(s) > maxLabelSegment {
		s = s[:maxLabelSegment]
	}
	if strings.TrimSpace(string(s)) == "" || string(s) == "_" {
		return FileID(uid)
	}
	return string(s)
}

// Sanitize makes label safe as a single path segment on common filesystems:
// NFC-normalized, reserved and control characters replaced by '_', and no
// leading or trailing spaces or dots.
func Sanitize(label string) string {
	label = norm.NFC.String(label)
	var b strings.Builder
	for _, r := range label {
		switch {
		case r < 0x20 || r == 0x7F || unicode.IsControl(r):
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), " .")
	if s == "" {
		return "_"
	}
	return s
}
