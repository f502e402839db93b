package dicomtest

import (
	"image"
	"image/color"

	"github.com/suyashkumar/dicom/pkg/frame"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// textMask renders text with basicfont and scales it to about 60% of the
// frame width, centered. The result is an alpha mask the size of the frame.
func textMask(width, height int, text string) *image.Alpha {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	const baseHeight = 13
	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	if baseWidth == 0 {
		return mask
	}

	textImg := image.NewAlpha(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.Alpha{A: 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	scale := float64(width) * 0.6 / float64(baseWidth)
	if scale < 1 {
		scale = 1
	}
	scaledW := int(float64(baseWidth) * scale)
	scaledH := int(float64(baseHeight) * scale)
	x := (width - scaledW) / 2
	y := (height - scaledH) / 2
	dst := image.Rect(x, y, x+scaledW, y+scaledH)

	draw.BiLinear.Scale(mask, dst, textImg, textImg.Bounds(), draw.Over, nil)
	return mask
}

// drawTextOnFrame16 burns text into a 16-bit frame at the maximum value.
func drawTextOnFrame16(nf *frame.NativeFrame[uint16], width, height int, text string) {
	mask := textMask(width, height, text)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if a := mask.AlphaAt(x, y).A; a > 127 {
				nf.RawData[y*width+x] = 0xFFFF
			}
		}
	}
}

// drawTextOnFrame8 burns text into an 8-bit frame.
func drawTextOnFrame8(nf *frame.NativeFrame[uint8], width, height int, text string) {
	mask := textMask(width, height, text)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if a := mask.AlphaAt(x, y).A; a > 127 {
				nf.RawData[y*width+x] = 0xFF
			}
		}
	}
}
