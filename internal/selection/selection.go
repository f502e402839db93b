// Package selection models the checked subset of images to export: image
// references grouped by patient, study and series, frozen into a read-only
// Snapshot before an export starts.
package selection

import (
	"fmt"
	"slices"
	"sync"

	"github.com/mitchellh/hashstructure/v2"
)

// ImageRef references one frame of one DICOM instance. Several refs share a
// SOPInstanceUID when they are frames of the same multiframe object.
type ImageRef struct {
	SOPInstanceUID    string
	SOPClassUID       string
	SeriesInstanceUID string
	StudyInstanceUID  string
	PatientPseudoUID  string
	InstanceNumber    int
	HasInstanceNumber bool
	// Frame is the 0-based frame index within the instance.
	Frame      int
	SourcePath string
}

// Labels are the display names of the tree nodes above an image.
type Labels struct {
	Patient string
	Study   string
	Series  string
}

// SeriesRef identifies a series in a snapshot.
type SeriesRef struct {
	UID              string
	StudyUID         string
	PatientPseudoUID string
	Label            string
	// Size is the number of image refs of the series in the snapshot.
	Size int
}

// patientIdentity is hashed into a PatientPseudoUID.
type patientIdentity struct {
	ID        string
	Issuer    string
	Name      string
	BirthDate string
}

// PatientPseudoUID derives a stable, non-identifying patient key. The
// patient ID and its issuer identify the patient; name and birth date are
// only used when there is no ID.
func PatientPseudoUID(id, issuer, name, birthDate string) string {
	ident := patientIdentity{ID: id, Issuer: issuer}
	if id == "" {
		ident.Name = name
		ident.BirthDate = birthDate
	}
	h, err := hashstructure.Hash(ident, hashstructure.FormatV2, nil)
	if err != nil {
		// hashing a flat struct of strings cannot fail
		panic(fmt.Sprintf("hash patient identity: %v", err))
	}
	return fmt.Sprintf("%016X", h)
}

type seriesNode struct {
	ref    SeriesRef
	labels Labels
	images []ImageRef
}

type studyNode struct {
	uid    string
	label  string
	series []*seriesNode
}

type patientNode struct {
	pseudoUID string
	label     string
	studies   []*studyNode
}

// Builder accumulates image refs. It is safe for concurrent use, so a UI can
// keep adding while another goroutine takes a snapshot.
type Builder struct {
	mu       sync.Mutex
	patients []*patientNode
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends ref under its patient, study and series, creating the nodes
// on first sight. Labels of existing nodes are not overwritten.
func (b *Builder) Add(ref ImageRef, labels Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var p *patientNode
	for _, cand := range b.patients {
		if cand.pseudoUID == ref.PatientPseudoUID {
			p = cand
			break
		}
	}
	if p == nil {
		p = &patientNode{pseudoUID: ref.PatientPseudoUID, label: labels.Patient}
		b.patients = append(b.patients, p)
	}

	var st *studyNode
	for _, cand := range p.studies {
		if cand.uid == ref.StudyInstanceUID {
			st = cand
			break
		}
	}
	if st == nil {
		st = &studyNode{uid: ref.StudyInstanceUID, label: labels.Study}
		p.studies = append(p.studies, st)
	}

	var se *seriesNode
	for _, cand := range st.series {
		if cand.ref.UID == ref.SeriesInstanceUID {
			se = cand
			break
		}
	}
	if se == nil {
		se = &seriesNode{
			ref: SeriesRef{
				UID:              ref.SeriesInstanceUID,
				StudyUID:         ref.StudyInstanceUID,
				PatientPseudoUID: ref.PatientPseudoUID,
				Label:            labels.Series,
			},
			labels: Labels{Patient: p.label, Study: st.label, Series: labels.Series},
		}
		st.series = append(st.series, se)
	}
	se.images = append(se.images, ref)
}

// Snapshot freezes the current content. Later calls to Add do not affect it.
func (b *Builder) Snapshot() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Snapshot{
		series:   make(map[seriesKey]*seriesNode),
		position: make(map[refKey]int),
	}
	for _, p := range b.patients {
		pc := &patientNode{pseudoUID: p.pseudoUID, label: p.label}
		for _, st := range p.studies {
			sc := &studyNode{uid: st.uid, label: st.label}
			for _, se := range st.series {
				cp := &seriesNode{ref: se.ref, labels: se.labels, images: slices.Clone(se.images)}
				cp.ref.Size = len(cp.images)
				sc.series = append(sc.series, cp)
				s.series[seriesKeyOf(cp.ref)] = cp
				for i, img := range cp.images {
					k := keyOf(img)
					if _, ok := s.position[k]; !ok {
						s.position[k] = i
					}
					s.images = append(s.images, img)
				}
			}
			pc.studies = append(pc.studies, sc)
		}
		s.patients = append(s.patients, pc)
	}
	return s
}

// seriesKey identifies a series node. The same series UID filed under two
// patients or studies gives two nodes.
type seriesKey struct {
	patient string
	study   string
	series  string
}

func seriesKeyOf(se SeriesRef) seriesKey {
	return seriesKey{patient: se.PatientPseudoUID, study: se.StudyUID, series: se.UID}
}

func seriesKeyOfImage(ref ImageRef) seriesKey {
	return seriesKey{patient: ref.PatientPseudoUID, study: ref.StudyInstanceUID, series: ref.SeriesInstanceUID}
}

type refKey struct {
	sop   string
	frame int
}

func keyOf(ref ImageRef) refKey {
	return refKey{sop: ref.SOPInstanceUID, frame: ref.Frame}
}

// Snapshot is an immutable selection. All accessors return copies.
type Snapshot struct {
	patients []*patientNode
	images   []ImageRef
	series   map[seriesKey]*seriesNode
	position map[refKey]int
}

// Len is the number of image refs, duplicates included.
func (s *Snapshot) Len() int {
	return len(s.images)
}

// Images returns every ref in tree order: patient, study, series, then the
// order images were added.
func (s *Snapshot) Images() []ImageRef {
	return slices.Clone(s.images)
}

// SeriesOf returns the series containing ref.
func (s *Snapshot) SeriesOf(ref ImageRef) (SeriesRef, bool) {
	se, ok := s.series[seriesKeyOfImage(ref)]
	if !ok {
		return SeriesRef{}, false
	}
	return se.ref, true
}

// RepresentativeInstance returns the image in the middle of a series
// obtained from SeriesOf.
func (s *Snapshot) RepresentativeInstance(series SeriesRef) (ImageRef, bool) {
	se, ok := s.series[seriesKeyOf(series)]
	if !ok || len(se.images) == 0 {
		return ImageRef{}, false
	}
	return se.images[len(se.images)/2], true
}

// Labels returns the display labels of the nodes above ref.
func (s *Snapshot) Labels(ref ImageRef) Labels {
	se, ok := s.series[seriesKeyOfImage(ref)]
	if !ok {
		return Labels{}
	}
	return se.labels
}

// PositionInSeries returns the index of ref within its series.
func (s *Snapshot) PositionInSeries(ref ImageRef) (int, bool) {
	i, ok := s.position[keyOf(ref)]
	return i, ok
}

// PatientNode, StudyNode and SeriesNode are read-only views used for reports.
type PatientNode struct {
	PseudoUID string
	Label     string
	Studies   []StudyNode
}

type StudyNode struct {
	UID    string
	Label  string
	Series []SeriesNode
}

type SeriesNode struct {
	SeriesRef
	Images []ImageRef
}

// Tree returns a copy of the patient/study/series hierarchy.
func (s *Snapshot) Tree() []PatientNode {
	out := make([]PatientNode, 0, len(s.patients))
	for _, p := range s.patients {
		pn := PatientNode{PseudoUID: p.pseudoUID, Label: p.label}
		for _, st := range p.studies {
			sn := StudyNode{UID: st.uid, Label: st.label}
			for _, se := range st.series {
				sn.Series = append(sn.Series, SeriesNode{SeriesRef: se.ref, Images: slices.Clone(se.images)})
			}
			pn.Studies = append(pn.Studies, sn)
		}
		out = append(out, pn)
	}
	return out
}
