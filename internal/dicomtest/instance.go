// Package dicomtest writes small but genuine DICOM files for tests: a pixel
// gradient with a text overlay, optional multiframe data and corrupt variants.
package dicomtest

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// MRImageStorage is the default SOP class of generated instances.
	MRImageStorage = "1.2.840.10008.5.1.4.1.1.4"
	// BasicTextSRStorage produces an SR DOCUMENT record.
	BasicTextSRStorage = "1.2.840.10008.5.1.4.1.1.88.11"

	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	uidRoot = "1.2.826.0.1.3680043.8.498."
)

// Instance describes one generated DICOM object. Zero values get defaults
// from withDefaults.
type Instance struct {
	PatientName       string
	PatientID         string
	IssuerOfPatientID string
	PatientBirthDate  string

	StudyUID         string
	StudyID          string
	StudyDate        string
	StudyDescription string

	SeriesUID         string
	SeriesNumber      int
	SeriesDescription string
	Modality          string

	SOPInstanceUID string
	SOPClassUID    string
	// InstanceNumber is omitted from the file when zero.
	InstanceNumber int

	Rows, Columns int
	Frames        int
	BitsAllocated int
	// BitsStored defaults to BitsAllocated.
	BitsStored   int
	Overlay      string
	WindowCenter string
	WindowWidth  string
	// Signed writes a 16-bit gradient around zero with PixelRepresentation 1
	// and no overlay.
	Signed bool
	// RGB writes interleaved 8-bit color pixels.
	RGB bool

	// NoPixelData writes a header-only object (SR, KO...).
	NoPixelData bool
}

// UID derives a deterministic DICOM UID from its parts.
func UID(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return uidRoot + strconv.FormatUint(h.Sum64(), 10)
}

func (in Instance) withDefaults() Instance {
	if in.PatientName == "" {
		in.PatientName = "DOE^JOHN"
	}
	if in.PatientID == "" {
		in.PatientID = "PID001"
	}
	if in.StudyUID == "" {
		in.StudyUID = UID("study", in.PatientID)
	}
	if in.StudyID == "" {
		in.StudyID = "1"
	}
	if in.StudyDate == "" {
		in.StudyDate = "20240115"
	}
	if in.SeriesNumber == 0 {
		in.SeriesNumber = 1
	}
	if in.SeriesUID == "" {
		in.SeriesUID = UID("series", in.StudyUID, strconv.Itoa(in.SeriesNumber))
	}
	if in.Modality == "" {
		in.Modality = "MR"
	}
	if in.SOPClassUID == "" {
		in.SOPClassUID = MRImageStorage
	}
	if in.SOPInstanceUID == "" {
		in.SOPInstanceUID = UID("instance", in.SeriesUID, strconv.Itoa(in.InstanceNumber))
	}
	if in.Rows == 0 {
		in.Rows = 32
	}
	if in.Columns == 0 {
		in.Columns = 32
	}
	if in.Frames == 0 {
		in.Frames = 1
	}
	switch {
	case in.RGB:
		in.BitsAllocated = 8
	case in.Signed:
		in.BitsAllocated = 16
	}
	if in.BitsAllocated == 0 {
		in.BitsAllocated = 16
	}
	if in.BitsStored == 0 {
		in.BitsStored = in.BitsAllocated
	}
	return in
}

func mustNewElement(t tag.Tag, data any) *dicom.Element {
	elem, err := dicom.NewElement(t, data)
	if err != nil {
		panic(fmt.Sprintf("new element %v: %v", t, err))
	}
	return elem
}

// Write generates the instance at path, creating parent directories.
func Write(path string, in Instance) error {
	in = in.withDefaults()

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
		mustNewElement(tag.MediaStorageSOPClassUID, []string{in.SOPClassUID}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{in.SOPInstanceUID}),
		mustNewElement(tag.SOPClassUID, []string{in.SOPClassUID}),
		mustNewElement(tag.SOPInstanceUID, []string{in.SOPInstanceUID}),
		mustNewElement(tag.StudyDate, []string{in.StudyDate}),
		mustNewElement(tag.StudyTime, []string{"101500"}),
		mustNewElement(tag.Modality, []string{in.Modality}),
		mustNewElement(tag.StudyDescription, []string{in.StudyDescription}),
		mustNewElement(tag.SeriesDescription, []string{in.SeriesDescription}),
		mustNewElement(tag.PatientName, []string{in.PatientName}),
		mustNewElement(tag.PatientID, []string{in.PatientID}),
	}
	if in.IssuerOfPatientID != "" {
		elements = append(elements, mustNewElement(tag.IssuerOfPatientID, []string{in.IssuerOfPatientID}))
	}
	elements = append(elements,
		mustNewElement(tag.PatientBirthDate, []string{in.PatientBirthDate}),
		mustNewElement(tag.StudyInstanceUID, []string{in.StudyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{in.SeriesUID}),
		mustNewElement(tag.StudyID, []string{in.StudyID}),
		mustNewElement(tag.SeriesNumber, []string{strconv.Itoa(in.SeriesNumber)}),
	)
	if in.InstanceNumber != 0 {
		elements = append(elements, mustNewElement(tag.InstanceNumber, []string{strconv.Itoa(in.InstanceNumber)}))
	}

	if !in.NoPixelData {
		if in.RGB {
			elements = append(elements,
				mustNewElement(tag.SamplesPerPixel, []int{3}),
				mustNewElement(tag.PhotometricInterpretation, []string{"RGB"}),
				mustNewElement(tag.PlanarConfiguration, []int{0}),
			)
		} else {
			elements = append(elements,
				mustNewElement(tag.SamplesPerPixel, []int{1}),
				mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
			)
		}
		pixelRepresentation := 0
		if in.Signed {
			pixelRepresentation = 1
		}
		if in.Frames > 1 {
			elements = append(elements, mustNewElement(tag.NumberOfFrames, []string{strconv.Itoa(in.Frames)}))
		}
		elements = append(elements,
			mustNewElement(tag.Rows, []int{in.Rows}),
			mustNewElement(tag.Columns, []int{in.Columns}),
			mustNewElement(tag.BitsAllocated, []int{in.BitsAllocated}),
			mustNewElement(tag.BitsStored, []int{in.BitsStored}),
			mustNewElement(tag.HighBit, []int{in.BitsStored - 1}),
			mustNewElement(tag.PixelRepresentation, []int{pixelRepresentation}),
		)
		if in.WindowCenter != "" && in.WindowWidth != "" {
			elements = append(elements,
				mustNewElement(tag.WindowCenter, []string{in.WindowCenter}),
				mustNewElement(tag.WindowWidth, []string{in.WindowWidth}),
			)
		}
		elements = append(elements, mustNewElement(tag.PixelData, pixelData(in)))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := dicom.Write(f, dicom.Dataset{Elements: elements}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func pixelData(in Instance) dicom.PixelDataInfo {
	pixels := in.Rows * in.Columns
	frames := make([]*frame.Frame, 0, in.Frames)
	for i := 0; i < in.Frames; i++ {
		text := in.Overlay
		if in.Frames > 1 {
			text = fmt.Sprintf("%s %d", in.Overlay, i+1)
		}
		var native frame.INativeFrame
		switch {
		case in.RGB:
			nf := frame.NewNativeFrame[uint8](8, in.Rows, in.Columns, pixels, 3)
			fillRGB(nf.RawData, in.Columns, in.Rows)
			native = nf
		case in.Signed:
			nf := frame.NewNativeFrame[uint16](16, in.Rows, in.Columns, pixels, 1)
			fillSigned16(nf.RawData, in.Columns, in.Rows, in.BitsStored, i)
			native = nf
		case in.BitsAllocated == 8:
			nf := frame.NewNativeFrame[uint8](8, in.Rows, in.Columns, pixels, 1)
			fillGradient8(nf.RawData, in.Columns, in.Rows, i)
			if text != "" {
				drawTextOnFrame8(nf, in.Columns, in.Rows, text)
			}
			native = nf
		default:
			nf := frame.NewNativeFrame[uint16](16, in.Rows, in.Columns, pixels, 1)
			fillGradient16(nf.RawData, in.Columns, in.Rows, i)
			if text != "" {
				drawTextOnFrame16(nf, in.Columns, in.Rows, text)
			}
			native = nf
		}
		frames = append(frames, &frame.Frame{Encapsulated: false, NativeData: native})
	}
	return dicom.PixelDataInfo{Frames: frames}
}

func fillGradient16(data []uint16, width, height, shift int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = uint16((x+y+shift)*4000/(width+height)) + 500
		}
	}
}

// fillSigned16 writes two's complement values from -1000 upwards, masked to
// bitsStored bits.
func fillSigned16(data []uint16, width, height, bitsStored, shift int) {
	mask := uint16(1<<bitsStored - 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := int16((x+y+shift)*2000/(width+height) - 1000)
			data[y*width+x] = uint16(v) & mask
		}
	}
}

// fillRGB ramps red along x and green along y, with a constant blue.
func fillRGB(data []uint8, width, height int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := (y*width + x) * 3
			data[p] = uint8(x * 255 / max(width-1, 1))
			data[p+1] = uint8(y * 255 / max(height-1, 1))
			data[p+2] = 64
		}
	}
}

func fillGradient8(data []uint8, width, height, shift int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = uint8((x + y + shift) * 200 / (width + height))
		}
	}
}

// WriteSeries writes n instances numbered 1..n into dir as IM00001, IM00002...
// and returns their paths. base supplies the shared patient/study/series data.
func WriteSeries(dir string, n int, base Instance) ([]string, error) {
	paths := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		in := base
		in.InstanceNumber = i
		in.SOPInstanceUID = ""
		if in.Overlay == "" {
			in.Overlay = strconv.Itoa(i)
		}
		path := filepath.Join(dir, fmt.Sprintf("IM%05d", i))
		if err := Write(path, in); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
