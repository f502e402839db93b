// Package render turns DICOM frames into 8-bit raster images for JPEG
// previews and DICOMDIR icons.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	lru "github.com/hashicorp/golang-lru"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomiso/internal/failure"
	"github.com/mrsinham/dicomiso/internal/selection"
	"github.com/mrsinham/dicomiso/internal/util"
)

// Renderer renders one frame of an instance. Release drops whatever decoded
// data is held for the instance.
type Renderer interface {
	Render(ctx context.Context, ref selection.ImageRef) (image.Image, error)
	Release(ref selection.ImageRef)
}

// DefaultCacheSize is the number of decoded files kept by DicomRenderer.
const DefaultCacheSize = 16

var errNoPixelData = errors.New("no pixel data")

type decoded struct {
	frames []*frame.Frame
	window *window
	slope  float64
	inter  float64
	// signed and bitsStored describe a stored grayscale value.
	signed     bool
	bitsStored int
	planar     bool
	invert     bool
}

type window struct {
	center, width float64
}

// DicomRenderer decodes files with suyashkumar/dicom and keeps the most
// recently decoded files in an LRU cache keyed by source path.
type DicomRenderer struct {
	cache *lru.Cache
}

// NewDicomRenderer returns a renderer caching up to cacheSize decoded files.
func NewDicomRenderer(cacheSize int) (*DicomRenderer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create pixel cache: %w", err)
	}
	return &DicomRenderer{cache: c}, nil
}

// Render returns frame ref.Frame of ref's file as an 8-bit grayscale or RGBA
// image, or the decoder's image for compressed data. Errors are
// RenderFailures.
func (r *DicomRenderer) Render(ctx context.Context, ref selection.ImageRef) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := r.load(ref.SourcePath)
	if err != nil {
		return nil, failure.New(failure.KindRender, "render", ref.SourcePath, err)
	}
	if ref.Frame < 0 || ref.Frame >= len(d.frames) {
		return nil, failure.New(failure.KindRender, "render", ref.SourcePath,
			fmt.Errorf("frame %d out of range (%d frames)", ref.Frame, len(d.frames)))
	}

	img, err := d.image(d.frames[ref.Frame])
	if err != nil {
		return nil, failure.New(failure.KindRender, "render", ref.SourcePath, fmt.Errorf("decode frame %d: %w", ref.Frame, err))
	}
	return img, nil
}

func (d *decoded) image(f *frame.Frame) (image.Image, error) {
	if f.IsEncapsulated() {
		return f.GetImage()
	}
	nf, err := f.GetNativeFrame()
	if err != nil {
		return nil, err
	}
	sample, n := samples(nf.RawDataSlice())
	if sample == nil {
		return nil, fmt.Errorf("unsupported sample type %T", nf.RawDataSlice())
	}
	spp := nf.SamplesPerPixel()
	if n < nf.Rows()*nf.Cols()*spp {
		return nil, fmt.Errorf("%d samples for a %dx%d frame", n, nf.Cols(), nf.Rows())
	}
	switch spp {
	case 1:
		return d.toGray8(nf, sample), nil
	case 3:
		return d.toRGBA(nf, sample), nil
	default:
		return nil, fmt.Errorf("%d samples per pixel: %w", spp, frame.ErrUnsupportedSamplesPerPixel)
	}
}

// samples returns an accessor over the raw data of a native frame and its
// length.
func samples(raw any) (func(i int) int, int) {
	switch data := raw.(type) {
	case []uint8:
		return func(i int) int { return int(data[i]) }, len(data)
	case []uint16:
		return func(i int) int { return int(data[i]) }, len(data)
	case []uint32:
		return func(i int) int { return int(data[i]) }, len(data)
	case []int:
		return func(i int) int { return data[i] }, len(data)
	}
	return nil, 0
}

// Release evicts ref's file from the cache.
func (r *DicomRenderer) Release(ref selection.ImageRef) {
	r.cache.Remove(ref.SourcePath)
}

func (r *DicomRenderer) load(path string) (*decoded, error) {
	if v, ok := r.cache.Get(path); ok {
		return v.(*decoded), nil
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, errNoPixelData
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, errNoPixelData
	}

	d := &decoded{frames: info.Frames, slope: 1}
	if pr, ok := util.Int(ds, tag.PixelRepresentation); ok && pr == 1 {
		d.signed = true
	}
	if bs, ok := util.Int(ds, tag.BitsStored); ok && bs > 0 && bs < 32 {
		d.bitsStored = bs
	}
	if pc, ok := util.Int(ds, tag.PlanarConfiguration); ok && pc == 1 {
		d.planar = true
	}
	d.invert = util.String(ds, tag.PhotometricInterpretation) == "MONOCHROME1"
	if s, ok := util.Float(ds, tag.RescaleSlope); ok && s != 0 {
		d.slope = s
	}
	if i, ok := util.Float(ds, tag.RescaleIntercept); ok {
		d.inter = i
	}
	c, okC := util.Float(ds, tag.WindowCenter)
	w, okW := util.Float(ds, tag.WindowWidth)
	if okC && okW && w > 0 {
		d.window = &window{center: c, width: w}
	}

	r.cache.Add(path, d)
	return d, nil
}

// stored masks v to BitsStored and sign-extends it for signed data.
func (d *decoded) stored(v int) int {
	if d.bitsStored == 0 {
		return v
	}
	v &= 1<<d.bitsStored - 1
	if d.signed && v&(1<<(d.bitsStored-1)) != 0 {
		v -= 1 << d.bitsStored
	}
	return v
}

// toGray8 maps stored values through the rescale and the VOI window. Without
// a window the full range of the frame is stretched. MONOCHROME1 is inverted.
func (d *decoded) toGray8(nf frame.INativeFrame, sample func(int) int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, nf.Cols(), nf.Rows()))
	values := make([]float64, len(dst.Pix))
	for i := range values {
		values[i] = float64(d.stored(sample(i)))*d.slope + d.inter
	}

	var lo, hi float64
	if d.window != nil {
		lo = d.window.center - d.window.width/2
		hi = d.window.center + d.window.width/2
	} else {
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, v := range values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	for i, v := range values {
		n := uint8(math.Max(0, math.Min(255, math.Round((v-lo)/span*255))))
		if d.invert {
			n = 255 - n
		}
		dst.Pix[i] = n
	}
	return dst
}

// toRGBA scales color samples to 8 bits. Planar data holds each color plane
// in turn.
func (d *decoded) toRGBA(nf frame.INativeFrame, sample func(int) int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, nf.Cols(), nf.Rows()))
	shift := max(nf.BitsPerSample()-8, 0)
	pixels := nf.Cols() * nf.Rows()
	for p := 0; p < pixels; p++ {
		for c := 0; c < 3; c++ {
			k := p*3 + c
			if d.planar {
				k = c*pixels + p
			}
			dst.Pix[p*4+c] = uint8(sample(k) >> shift)
		}
		dst.Pix[p*4+3] = 0xFF
	}
	return dst
}
