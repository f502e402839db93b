package selection

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"

	"github.com/mrsinham/dicomiso/internal/util"
)

type scanned struct {
	ref          ImageRef
	labels       Labels
	seriesNumber int
}

// Scan walks root and selects every readable DICOM instance below it. Files
// that do not parse as DICOM are skipped, as are DICOMDIR files. A
// multiframe instance yields one ref per frame.
func Scan(ctx context.Context, root string, log *zap.SugaredLogger) (*Snapshot, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var found []scanned
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(d.Name(), "DICOMDIR") || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		refs, err := scanFile(path)
		if err != nil {
			log.Debugw("skipping non-DICOM file", "path", path, "error", err)
			return nil
		}
		found = append(found, refs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.ref.PatientPseudoUID != b.ref.PatientPseudoUID {
			return a.labels.Patient+a.ref.PatientPseudoUID < b.labels.Patient+b.ref.PatientPseudoUID
		}
		if a.ref.StudyInstanceUID != b.ref.StudyInstanceUID {
			return a.ref.StudyInstanceUID < b.ref.StudyInstanceUID
		}
		if a.seriesNumber != b.seriesNumber {
			return a.seriesNumber < b.seriesNumber
		}
		if a.ref.SeriesInstanceUID != b.ref.SeriesInstanceUID {
			return a.ref.SeriesInstanceUID < b.ref.SeriesInstanceUID
		}
		if a.ref.InstanceNumber != b.ref.InstanceNumber {
			return a.ref.InstanceNumber < b.ref.InstanceNumber
		}
		if a.ref.SourcePath != b.ref.SourcePath {
			return a.ref.SourcePath < b.ref.SourcePath
		}
		return a.ref.Frame < b.ref.Frame
	})

	b := NewBuilder()
	for _, s := range found {
		b.Add(s.ref, s.labels)
	}
	log.Infow("scan complete", "root", root, "images", len(found))
	return b.Snapshot(), nil
}

func scanFile(path string) ([]scanned, error) {
	ds, err := util.ParseHeader(path)
	if err != nil {
		return nil, err
	}

	sop := util.String(ds, tag.SOPInstanceUID)
	if sop == "" {
		sop = util.String(ds, tag.MediaStorageSOPInstanceUID)
	}
	if sop == "" {
		return nil, fmt.Errorf("no SOP Instance UID")
	}
	sopClass := util.String(ds, tag.SOPClassUID)
	if sopClass == "" {
		sopClass = util.String(ds, tag.MediaStorageSOPClassUID)
	}

	patientID := util.String(ds, tag.PatientID)
	patientName := util.String(ds, tag.PatientName)
	birthDate := util.String(ds, tag.PatientBirthDate)

	ref := ImageRef{
		SOPInstanceUID:    sop,
		SOPClassUID:       sopClass,
		SeriesInstanceUID: util.String(ds, tag.SeriesInstanceUID),
		StudyInstanceUID:  util.String(ds, tag.StudyInstanceUID),
		PatientPseudoUID:  PatientPseudoUID(patientID, util.String(ds, tag.IssuerOfPatientID), patientName, birthDate),
		SourcePath:        path,
	}
	ref.InstanceNumber, ref.HasInstanceNumber = util.Int(ds, tag.InstanceNumber)
	seriesNumber, _ := util.Int(ds, tag.SeriesNumber)

	labels := Labels{
		Patient: PatientLabel(patientName, patientID),
		Study: StudyLabel(util.String(ds, tag.StudyDescription), util.String(ds, tag.StudyDate),
			util.String(ds, tag.StudyID)),
		Series: SeriesLabel(util.String(ds, tag.SeriesNumber), util.String(ds, tag.SeriesDescription),
			util.String(ds, tag.Modality)),
	}

	frames, ok := util.Int(ds, tag.NumberOfFrames)
	if !ok || frames < 1 {
		frames = 1
	}
	out := make([]scanned, 0, frames)
	for i := 0; i < frames; i++ {
		r := ref
		r.Frame = i
		out = append(out, scanned{ref: r, labels: labels, seriesNumber: seriesNumber})
	}
	return out, nil
}

// PatientLabel is the patient's name with DICOM component separators
// replaced by spaces, followed by the patient ID.
func PatientLabel(name, id string) string {
	name = strings.Join(strings.Fields(strings.ReplaceAll(name, "^", " ")), " ")
	switch {
	case name != "" && id != "":
		return name + " " + id
	case name != "":
		return name
	case id != "":
		return id
	}
	return "Unknown patient"
}

// StudyLabel prefers the description, then the date, then the study ID.
func StudyLabel(description, date, id string) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	if date != "" {
		return date
	}
	if id != "" {
		return "Study " + id
	}
	return "Study"
}

// SeriesLabel is "<number> <description>", falling back to the modality.
func SeriesLabel(number, description, modality string) string {
	d := strings.TrimSpace(description)
	if d == "" {
		d = modality
	}
	switch {
	case number != "" && d != "":
		return number + " " + d
	case d != "":
		return d
	case number != "":
		return "Series " + number
	}
	return "Series"
}
