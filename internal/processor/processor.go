package processor

import (
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"

	"github.com/disintegration/imaging"
)

// ImageModifier defines an image modifier
type ImageModifier interface {
	Modify(img image.Image) image.Image
}

// ImageResizer scales an image down to fit inside Width x Height, keeping
// the aspect ratio. A zero dimension is unbounded. Images already small
// enough are returned as is.
type ImageResizer struct {
	Width  int
	Height int
}

// Modify to implement ImageModifier interface
func (r *ImageResizer) Modify(img image.Image) image.Image {
	w := float64(img.Bounds().Dx())
	h := float64(img.Bounds().Dy())

	if w == 0 || h == 0 || (r.Width <= 0 && r.Height <= 0) {
		return img
	}

	ratio := 0.0
	if r.Width > 0 {
		ratio = w / float64(r.Width)
	}
	if r.Height > 0 {
		if hRatio := h / float64(r.Height); hRatio > ratio {
			ratio = hRatio
		}
	}

	// Nothing to do - return original image
	if ratio <= 1 {
		return img
	}

	return imaging.Resize(img, max(1, int(w/ratio)), max(1, int(h/ratio)), imaging.Lanczos)
}

// Grayscale replaces every pixel with its ITU-R BT.601 luma, leaving alpha
// untouched.
type Grayscale struct{}

// Modify to implement ImageModifier interface
func (Grayscale) Modify(img image.Image) image.Image {
	// Clone gives a non-premultiplied copy with a packed Pix slice, so alpha
	// can be carried over byte for byte.
	out := imaging.Clone(img)
	pix := out.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		y := Luma(pix[i], pix[i+1], pix[i+2])
		pix[i], pix[i+1], pix[i+2] = y, y, y
	}
	return out
}

// Luma is 0.299R + 0.587G + 0.114B in integer arithmetic, truncated.
func Luma(r, g, b uint8) uint8 {
	return uint8((uint32(r)*299 + uint32(g)*587 + uint32(b)*114) / 1000)
}

// LoadImage reads image from reader and applies requested modifiers to that
// image. The decoder name is returned alongside ("jpeg", "png", "webp", ...).
func LoadImage(r io.Reader, modifiers ...ImageModifier) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", err
	}

	for _, modifier := range modifiers {
		img = modifier.Modify(img)
	}

	return img, format, nil
}
