package dicomdir

import (
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Directory record types.
const (
	TypePatient      = "PATIENT"
	TypeStudy        = "STUDY"
	TypeSeries       = "SERIES"
	TypeImage        = "IMAGE"
	TypeSRDocument   = "SR DOCUMENT"
	TypePresentation = "PRESENTATION"
	TypeWaveform     = "WAVEFORM"
	TypeKeyObject    = "KEY OBJECT DOC"
	TypeEncapDoc     = "ENCAP DOC"
	TypeRTDose       = "RT DOSE"
	TypeRTStructure  = "RT STRUCTURE SET"
	TypeRTPlan       = "RT PLAN"
	TypeRTTreatment  = "RT TREAT RECORD"
	TypeRawData      = "RAW DATA"
	TypeSpectroscopy = "SPECTROSCOPY"
	TypeRegistration = "REGISTRATION"
)

// Media Storage Directory Storage SOP class.
const mediaStorageDirectoryStorage = "1.2.840.10008.1.3.10"

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	implementationClassUID = "1.2.826.0.1.3680043.8.498.1"
	implementationVersion  = "DICOMISO_1"
)

// sopClassRecordTypes maps non-image SOP classes to their record type.
var sopClassRecordTypes = map[string]string{
	"1.2.840.10008.5.1.4.1.1.88.11": TypeSRDocument, // Basic Text SR
	"1.2.840.10008.5.1.4.1.1.88.22": TypeSRDocument, // Enhanced SR
	"1.2.840.10008.5.1.4.1.1.88.33": TypeSRDocument, // Comprehensive SR
	"1.2.840.10008.5.1.4.1.1.88.34": TypeSRDocument, // Comprehensive 3D SR
	"1.2.840.10008.5.1.4.1.1.88.50": TypeSRDocument, // Mammography CAD SR
	"1.2.840.10008.5.1.4.1.1.88.67": TypeSRDocument, // X-Ray Radiation Dose SR
	"1.2.840.10008.5.1.4.1.1.88.59": TypeKeyObject,
	"1.2.840.10008.5.1.4.1.1.11.1":  TypePresentation, // Grayscale Softcopy Presentation State
	"1.2.840.10008.5.1.4.1.1.11.2":  TypePresentation, // Color
	"1.2.840.10008.5.1.4.1.1.11.3":  TypePresentation, // Pseudo-Color
	"1.2.840.10008.5.1.4.1.1.11.4":  TypePresentation, // Blending
	"1.2.840.10008.5.1.4.1.1.9.1.1": TypeWaveform,     // 12-lead ECG
	"1.2.840.10008.5.1.4.1.1.9.1.2": TypeWaveform,     // General ECG
	"1.2.840.10008.5.1.4.1.1.9.1.3": TypeWaveform,     // Ambulatory ECG
	"1.2.840.10008.5.1.4.1.1.9.4.1": TypeWaveform,     // Basic Voice Audio
	"1.2.840.10008.5.1.4.1.1.104.1": TypeEncapDoc,     // Encapsulated PDF
	"1.2.840.10008.5.1.4.1.1.104.2": TypeEncapDoc,     // Encapsulated CDA
	"1.2.840.10008.5.1.4.1.1.481.2": TypeRTDose,
	"1.2.840.10008.5.1.4.1.1.481.3": TypeRTStructure,
	"1.2.840.10008.5.1.4.1.1.481.5": TypeRTPlan,
	"1.2.840.10008.5.1.4.1.1.481.4": TypeRTTreatment, // Beams Treatment Record
	"1.2.840.10008.5.1.4.1.1.66":    TypeRawData,
	"1.2.840.10008.5.1.4.1.1.4.2":   TypeSpectroscopy,
	"1.2.840.10008.5.1.4.1.1.66.1":  TypeRegistration,
}

// RecordTypeFor returns the instance-level record type of a SOP class.
// Unknown classes are images.
func RecordTypeFor(sopClassUID string) string {
	if t, ok := sopClassRecordTypes[sopClassUID]; ok {
		return t
	}
	return TypeImage
}

// level returns 0 for PATIENT, 1 for STUDY, 2 for SERIES and 3 for every
// instance-level type.
func level(recordType string) int {
	switch recordType {
	case TypePatient:
		return 0
	case TypeStudy:
		return 1
	case TypeSeries:
		return 2
	default:
		return 3
	}
}

// Record is one directory record. Elements hold the record's keys; the
// offset and in-use elements are managed by the writer.
type Record struct {
	Type     string
	Elements []*dicom.Element
	Children []*Record

	hasIcon bool
	sops    map[string]bool
}

// Value returns the first string value of a key, or "".
func (r *Record) Value(t tag.Tag) string {
	for _, e := range r.Elements {
		if e.Tag == t {
			if v, ok := e.Value.GetValue().([]string); ok && len(v) > 0 {
				return strings.Trim(v[0], " \x00")
			}
			return ""
		}
	}
	return ""
}

// Values returns all string values of a key.
func (r *Record) Values(t tag.Tag) []string {
	for _, e := range r.Elements {
		if e.Tag == t {
			v, _ := e.Value.GetValue().([]string)
			return v
		}
	}
	return nil
}

// HasIcon reports whether the record carries an IconImageSequence.
func (r *Record) HasIcon() bool {
	return r.hasIcon
}

func (r *Record) has(t tag.Tag) bool {
	for _, e := range r.Elements {
		if e.Tag == t {
			return true
		}
	}
	return false
}

func (r *Record) set(e *dicom.Element) {
	for i, cur := range r.Elements {
		if cur.Tag == e.Tag {
			r.Elements[i] = e
			return
		}
	}
	r.Elements = append(r.Elements, e)
}

// Walk visits r and its descendants depth first.
func (r *Record) Walk(fn func(rec *Record, depth int)) {
	r.walk(fn, 0)
}

func (r *Record) walk(fn func(rec *Record, depth int), depth int) {
	fn(r, depth)
	for _, c := range r.Children {
		c.walk(fn, depth+1)
	}
}

// isRecordControl reports whether t is one of the elements the writer
// derives itself.
func isRecordControl(t tag.Tag) bool {
	switch t {
	case tag.OffsetOfTheNextDirectoryRecord,
		tag.RecordInUseFlag,
		tag.OffsetOfReferencedLowerLevelDirectoryEntity,
		tag.DirectoryRecordType:
		return true
	}
	return false
}

func sortElements(elems []*dicom.Element) {
	sort.SliceStable(elems, func(i, j int) bool {
		a, b := elems[i].Tag, elems[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
}
