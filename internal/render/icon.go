package render

import (
	"image"

	"golang.org/x/image/draw"
)

// DefaultIconSize is the long side of a DICOMDIR icon, in pixels.
const DefaultIconSize = 64

// Icon downscales img to an 8-bit grayscale image whose longer side is at
// most maxSize, keeping the aspect ratio. Smaller images are not enlarged.
func Icon(img image.Image, maxSize int) *image.Gray {
	if maxSize <= 0 {
		maxSize = DefaultIconSize
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxSize || h > maxSize {
		if w >= h {
			h = max(1, h*maxSize/w)
			w = maxSize
		} else {
			w = max(1, w*maxSize/h)
			h = maxSize
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return dst
}
