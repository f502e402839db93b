// Package dicomdir builds the DICOMDIR index of a staged file-set: the
// PATIENT, STUDY, SERIES and instance directory records, linked by byte
// offsets, with an optional icon image per series.
package dicomdir

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/failure"
	"github.com/mrsinham/dicomiso/internal/naming"
	"github.com/mrsinham/dicomiso/internal/render"
	"github.com/mrsinham/dicomiso/internal/selection"
	"github.com/mrsinham/dicomiso/internal/util"
)

// FileName is the name of the index file at the file-set root.
const FileName = "DICOMDIR"

const maxFileSetIDLen = 16

// Options configure a Builder.
type Options struct {
	// FileSetID is written to (0004,1130), uppercased and cut to 16 characters.
	FileSetID string
	// ExtraKeys are optional attributes copied from each instance into the
	// record of the given level when present.
	ExtraKeys map[util.RecordLevel][]tag.Tag
	// IconSize is the long side of series icons. Zero means render.DefaultIconSize.
	IconSize int
	Log      *zap.SugaredLogger
}

// IconSource renders the image a series icon is made from.
type IconSource func(ctx context.Context) (image.Image, error)

// Builder accumulates directory records for a file-set and writes the
// DICOMDIR on Close. Lookups of existing patients, studies and series go
// through in-memory indexes.
type Builder struct {
	root       string
	opts       Options
	log        *zap.SugaredLogger
	fileSetID  string
	fileSetUID string

	roots    []*Record
	patients map[string]*Record
	studies  map[string]*Record
	series   map[string]*Record

	added  int
	closed bool
}

// Stats summarizes a builder's content.
type Stats struct {
	Patients, Studies, Series, Instances, Icons int
}

// Open starts a builder for the file-set rooted at root. An existing
// DICOMDIR is loaded and new records are merged into it; otherwise a new
// file-set is started.
func Open(root string, opts Options) (*Builder, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Builder{
		root:     root,
		opts:     opts,
		log:      log,
		patients: make(map[string]*Record),
		studies:  make(map[string]*Record),
		series:   make(map[string]*Record),
	}

	path := filepath.Join(root, FileName)
	dir, err := Read(path)
	switch {
	case err == nil:
		b.fileSetID = dir.FileSetID
		b.fileSetUID = dir.FileSetUID
		for _, p := range dir.Roots {
			b.adopt(p)
		}
		log.Debugw("appending to existing DICOMDIR", "path", path, "patients", len(b.roots))
	case errors.Is(err, os.ErrNotExist):
		b.fileSetID = fileSetID(opts.FileSetID)
		b.fileSetUID = newFileSetUID()
	default:
		return nil, failure.New(failure.KindDirectoryWrite, "open", path, err)
	}
	if b.fileSetUID == "" {
		b.fileSetUID = newFileSetUID()
	}
	return b, nil
}

func fileSetID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) > maxFileSetIDLen {
		id = id[:maxFileSetIDLen]
	}
	return id
}

// newFileSetUID derives a UID under the 2.25 root from a random UUID.
func newFileSetUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

// adopt indexes a record tree read from an existing DICOMDIR. Patient,
// study and series records repeated in the file are merged into the first
// one, and an instance already listed in the merged series is dropped.
func (b *Builder) adopt(p *Record) {
	pk := patientKey(p.Value(tag.PatientID), p.Value(tag.IssuerOfPatientID), p.Value(tag.PatientName), p.Value(tag.PatientBirthDate))
	patient, ok := b.patients[pk]
	if !ok {
		patient = p
		b.patients[pk] = p
		b.roots = append(b.roots, p)
	}
	studies := p.Children
	if patient == p {
		patient.Children = nil
	}
	for _, st := range studies {
		sk := pk + "|" + st.Value(tag.StudyInstanceUID)
		study, ok := b.studies[sk]
		if !ok {
			study = st
			b.studies[sk] = st
			patient.Children = append(patient.Children, st)
		}
		series := st.Children
		if study == st {
			study.Children = nil
		}
		for _, se := range series {
			sek := sk + "|" + se.Value(tag.SeriesInstanceUID)
			target, ok := b.series[sek]
			if !ok {
				target = se
				target.sops = make(map[string]bool, len(se.Children))
				b.series[sek] = se
				study.Children = append(study.Children, se)
			}
			instances := se.Children
			if target == se {
				target.Children = nil
			}
			for _, inst := range instances {
				sop := inst.Value(tag.ReferencedSOPInstanceUIDInFile)
				if sop != "" {
					if target.sops[sop] {
						continue
					}
					target.sops[sop] = true
				}
				target.Children = append(target.Children, inst)
			}
		}
	}
}

func patientKey(id, issuer, name, birthDate string) string {
	return selection.PatientPseudoUID(id, issuer, name, birthDate)
}

// AddInstance indexes the staged file at relPath, relative to the file-set
// root. Patient, study and series records are looked up and created when
// missing; the instance record is skipped when its SOP Instance UID is
// already in the series. When isFirstInSeries is set and icon is not nil,
// the series record gets an icon; a failing icon is logged and omitted.
func (b *Builder) AddInstance(ctx context.Context, relPath string, isFirstInSeries bool, icon IconSource) error {
	if b.closed {
		return failure.New(failure.KindDirectoryWrite, "add instance", relPath, errors.New("builder is closed"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, c := range fileIDComponents(relPath) {
		if !naming.ValidFileIDComponent(c) {
			return failure.New(failure.KindDirectoryWrite, "add instance", relPath,
				fmt.Errorf("%q is not a valid file ID component", c))
		}
	}

	ds, err := util.ParseHeader(filepath.Join(b.root, relPath))
	if err != nil {
		return failure.New(failure.KindDirectoryWrite, "parse", relPath, err)
	}

	sop := util.String(ds, tag.MediaStorageSOPInstanceUID)
	if sop == "" {
		sop = util.String(ds, tag.SOPInstanceUID)
	}
	sopClass := util.String(ds, tag.MediaStorageSOPClassUID)
	if sopClass == "" {
		sopClass = util.String(ds, tag.SOPClassUID)
	}
	if sop == "" || sopClass == "" {
		return failure.New(failure.KindDirectoryWrite, "parse", relPath, errors.New("missing SOP class or instance UID"))
	}
	charset := util.Strings(ds, tag.SpecificCharacterSet)

	patientID := util.String(ds, tag.PatientID)
	issuer := util.String(ds, tag.IssuerOfPatientID)
	birthDate := util.String(ds, tag.PatientBirthDate)
	pk := patientKey(patientID, issuer, util.String(ds, tag.PatientName), birthDate)
	patient, ok := b.patients[pk]
	if !ok {
		keys := []key{
			keyString(tag.PatientName, util.String(ds, tag.PatientName)),
			keyString(tag.PatientID, patientID),
		}
		// the patient key is rebuilt from these when appending
		if issuer != "" {
			keys = append(keys, keyString(tag.IssuerOfPatientID, issuer))
		}
		if birthDate != "" {
			keys = append(keys, keyString(tag.PatientBirthDate, birthDate))
		}
		patient = b.newRecord(TypePatient, ds, charset, util.LevelPatient, keys...)
		b.patients[pk] = patient
		b.roots = append(b.roots, patient)
	}

	studyUID := util.String(ds, tag.StudyInstanceUID)
	sk := pk + "|" + studyUID
	study, ok := b.studies[sk]
	if !ok {
		study = b.newRecord(TypeStudy, ds, charset, util.LevelStudy,
			keyString(tag.StudyDate, util.String(ds, tag.StudyDate)),
			keyString(tag.StudyTime, util.String(ds, tag.StudyTime)),
			keyString(tag.AccessionNumber, util.String(ds, tag.AccessionNumber)),
			keyString(tag.StudyDescription, util.String(ds, tag.StudyDescription)),
			keyString(tag.StudyInstanceUID, studyUID),
			keyString(tag.StudyID, util.String(ds, tag.StudyID)),
		)
		b.studies[sk] = study
		patient.Children = append(patient.Children, study)
	}

	seriesUID := util.String(ds, tag.SeriesInstanceUID)
	sek := sk + "|" + seriesUID
	series, ok := b.series[sek]
	if !ok {
		series = b.newRecord(TypeSeries, ds, charset, util.LevelSeries,
			keyString(tag.Modality, util.String(ds, tag.Modality)),
			keyString(tag.SeriesInstanceUID, seriesUID),
			keyString(tag.SeriesNumber, util.String(ds, tag.SeriesNumber)),
		)
		series.sops = make(map[string]bool)
		b.series[sek] = series
		study.Children = append(study.Children, series)
	}

	if series.sops[sop] {
		b.log.Debugw("instance already in DICOMDIR", "sop", sop, "path", relPath)
		return nil
	}

	transferSyntax := util.String(ds, tag.TransferSyntaxUID)
	if transferSyntax == "" {
		transferSyntax = explicitVRLittleEndian
	}
	instance := b.newRecord(RecordTypeFor(sopClass), ds, charset, util.LevelInstance,
		keyStrings(tag.ReferencedFileID, fileIDComponents(relPath)),
		keyString(tag.ReferencedSOPClassUIDInFile, sopClass),
		keyString(tag.ReferencedSOPInstanceUIDInFile, sop),
		keyString(tag.ReferencedTransferSyntaxUIDInFile, transferSyntax),
		keyString(tag.InstanceNumber, util.String(ds, tag.InstanceNumber)),
	)
	series.sops[sop] = true
	series.Children = append(series.Children, instance)
	b.added++

	if isFirstInSeries && icon != nil && !series.hasIcon {
		b.attachIcon(ctx, series, icon)
	}
	return nil
}

func (b *Builder) attachIcon(ctx context.Context, series *Record, icon IconSource) {
	img, err := icon(ctx)
	if err != nil {
		b.log.Warnw("series icon omitted", "series", series.Value(tag.SeriesInstanceUID), "error", err)
		return
	}
	elem, err := iconSequence(render.Icon(img, b.opts.IconSize))
	if err != nil {
		b.log.Warnw("series icon omitted", "series", series.Value(tag.SeriesInstanceUID), "error", err)
		return
	}
	series.set(elem)
	series.hasIcon = true
}

// iconSequence encodes an 8-bit grayscale icon as an IconImageSequence.
func iconSequence(g *image.Gray) (*dicom.Element, error) {
	rows, cols := g.Rect.Dy(), g.Rect.Dx()
	nf := frame.NewNativeFrame[uint8](8, rows, cols, rows*cols, 1)
	for y := 0; y < rows; y++ {
		copy(nf.RawData[y*cols:(y+1)*cols], g.Pix[y*g.Stride:y*g.Stride+cols])
	}
	item := []*dicom.Element{
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.Rows, []int{rows}),
		mustNewElement(tag.Columns, []int{cols}),
		mustNewElement(tag.BitsAllocated, []int{8}),
		mustNewElement(tag.BitsStored, []int{8}),
		mustNewElement(tag.HighBit, []int{7}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
		}),
	}
	return dicom.NewElement(tag.IconImageSequence, [][]*dicom.Element{item})
}

type key struct {
	tag    tag.Tag
	values []string
}

func keyString(t tag.Tag, v string) key {
	return key{tag: t, values: []string{v}}
}

func keyStrings(t tag.Tag, v []string) key {
	return key{tag: t, values: v}
}

func (b *Builder) newRecord(recordType string, ds dicom.Dataset, charset []string, lvl util.RecordLevel, keys ...key) *Record {
	r := &Record{Type: recordType}
	if len(charset) > 0 {
		r.Elements = append(r.Elements, mustNewElement(tag.SpecificCharacterSet, charset))
	}
	for _, k := range keys {
		r.Elements = append(r.Elements, mustNewElement(k.tag, k.values))
	}
	for _, t := range b.opts.ExtraKeys[lvl] {
		if r.has(t) {
			continue
		}
		if e, err := ds.FindElementByTag(t); err == nil && e != nil {
			r.Elements = append(r.Elements, e)
		}
	}
	return r
}

// fileIDComponents splits a relative path into ReferencedFileID components.
func fileIDComponents(relPath string) []string {
	return strings.Split(filepath.ToSlash(filepath.Clean(relPath)), "/")
}

func mustNewElement(t tag.Tag, data any) *dicom.Element {
	elem, err := dicom.NewElement(t, data)
	if err != nil {
		panic(fmt.Sprintf("new element %v: %v", t, err))
	}
	return elem
}

// Stats counts the records currently held.
func (b *Builder) Stats() Stats {
	var s Stats
	for _, p := range b.roots {
		p.Walk(func(r *Record, depth int) {
			switch depth {
			case 0:
				s.Patients++
			case 1:
				s.Studies++
			case 2:
				s.Series++
				if r.hasIcon {
					s.Icons++
				}
			default:
				s.Instances++
			}
		})
	}
	return s
}

// Close writes the DICOMDIR. The file is written to a temporary name and
// renamed, so a failed write never leaves a truncated DICOMDIR behind.
// Calling Close more than once is a no-op.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	path := filepath.Join(b.root, FileName)
	data, err := b.encode()
	if err != nil {
		return failure.New(failure.KindDirectoryWrite, "encode", path, err)
	}

	tmp, err := os.CreateTemp(b.root, ".dicomdir-*")
	if err != nil {
		return failure.New(failure.KindDirectoryWrite, "write", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return failure.New(failure.KindDirectoryWrite, "write", path, err)
	}
	if err := tmp.Close(); err != nil {
		return failure.New(failure.KindDirectoryWrite, "write", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return failure.New(failure.KindDirectoryWrite, "write", path, err)
	}

	st := b.Stats()
	b.log.Infow("DICOMDIR written", "path", path, "patients", st.Patients, "studies", st.Studies,
		"series", st.Series, "instances", st.Instances, "icons", st.Icons, "added", b.added)
	return nil
}

// encode writes the dataset with zero offsets, then links the records in
// the encoded bytes.
func (b *Builder) encode() ([]byte, error) {
	var flat []*Record
	var items [][]*dicom.Element
	for _, p := range b.roots {
		p.Walk(func(r *Record, _ int) {
			flat = append(flat, r)
			items = append(items, recordItem(r))
		})
	}

	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustNewElement(tag.MediaStorageSOPClassUID, []string{mediaStorageDirectoryStorage}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{b.fileSetUID}),
		mustNewElement(tag.ImplementationClassUID, []string{implementationClassUID}),
		mustNewElement(tag.ImplementationVersionName, []string{implementationVersion}),
		mustNewElement(tag.FileSetID, []string{b.fileSetID}),
		mustNewElement(tag.OffsetOfTheFirstDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.OffsetOfTheLastDirectoryRecordOfTheRootDirectoryEntity, []int{0}),
		mustNewElement(tag.FileSetConsistencyFlag, []int{0}),
	}}
	seq, err := dicom.NewElement(tag.DirectoryRecordSequence, items)
	if err != nil {
		return nil, fmt.Errorf("create directory record sequence: %w", err)
	}
	ds.Elements = append(ds.Elements, seq)

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds); err != nil {
		return nil, fmt.Errorf("write DICOMDIR: %w", err)
	}
	data := buf.Bytes()
	if err := linkRecords(data, b.roots, flat); err != nil {
		return nil, fmt.Errorf("update DICOMDIR offsets: %w", err)
	}
	return data, nil
}

func recordItem(r *Record) []*dicom.Element {
	elems := []*dicom.Element{
		mustNewElement(tag.OffsetOfTheNextDirectoryRecord, []int{0}),
		mustNewElement(tag.RecordInUseFlag, []int{0xFFFF}),
		mustNewElement(tag.OffsetOfReferencedLowerLevelDirectoryEntity, []int{0}),
		mustNewElement(tag.DirectoryRecordType, []string{r.Type}),
	}
	for _, e := range r.Elements {
		if !isRecordControl(e.Tag) {
			elems = append(elems, e)
		}
	}
	sortElements(elems)
	return elems
}
