package converter

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/jpegxl"
	"github.com/trunov/heroproxy/internal/config"
	"github.com/trunov/heroproxy/internal/entities"
	"github.com/trunov/heroproxy/internal/processor"
)

var (
	ErrDecode            = errors.New("error decoding image")
	ErrEncode            = errors.New("error encoding image")
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// Converter decodes a source image, applies the requested modifiers and
// re-encodes it. It holds no per-call state and is safe for concurrent use.
type Converter struct {
	MaxWidth  int
	MaxHeight int
	JXLEffort int
	AVIFSpeed int
}

func New(cfg config.ProxyConfig) Converter {
	return Converter{
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
		JXLEffort: JXLEffort(cfg.JXLSpeed),
		AVIFSpeed: cfg.AVIFSpeed,
	}
}

func (c Converter) Transcode(data []byte, opts entities.EncodeOptions) ([]byte, error) {
	var modifiers []processor.ImageModifier
	if c.MaxWidth > 0 || c.MaxHeight > 0 {
		modifiers = append(modifiers, &processor.ImageResizer{Width: c.MaxWidth, Height: c.MaxHeight})
	}
	if !opts.KeepColor {
		modifiers = append(modifiers, processor.Grayscale{})
	}

	img, _, err := processor.LoadImage(bytes.NewReader(data), modifiers...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var buf bytes.Buffer
	if err := c.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes img in opts.Format at the mapped native quality.
func (c Converter) Encode(w io.Writer, img image.Image, opts entities.EncodeOptions) error {
	var err error
	switch opts.Format {
	case entities.FormatWebP, "":
		err = webp.Encode(w, img, WebPOptions(opts.Quality))
	case entities.FormatAVIF:
		err = avif.Encode(w, img, AVIFOptions(opts.Quality, c.AVIFSpeed))
	case entities.FormatJXL:
		err = jpegxl.Encode(w, img, jpegxl.Options{Quality: JXLQuality(opts.Quality), Effort: c.JXLEffort})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}
	if err != nil {
		return fmt.Errorf("%w to %s: %v", ErrEncode, opts.Format.Extension(), err)
	}
	return nil
}
