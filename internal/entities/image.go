package entities

import (
	"fmt"
	"path"
	"strings"
)

// Format is the output encoding the proxy produces.
type Format string

const (
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
	FormatJXL  Format = "jxl"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatWebP, FormatAVIF, FormatJXL:
		return f, nil
	case "jpegxl", "jpeg-xl":
		return FormatJXL, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

func (f Format) MIMEType() string {
	switch f {
	case FormatAVIF:
		return "image/avif"
	case FormatJXL:
		return "image/jxl"
	default:
		return "image/webp"
	}
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	if f == "" {
		return string(FormatWebP)
	}
	return string(f)
}

func (f Format) String() string { return string(f) }

// Filename swaps the extension of the last path segment of sourceURL,
// e.g. "https://example.com/photo.jpg?x=1" -> "photo.webp".
func (f Format) Filename(sourceURL string) string {
	p := sourceURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	base := path.Base(p)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == "" || stem == "." || stem == "/" || strings.Contains(stem, ":") {
		stem = "image"
	}
	return stem + "." + f.Extension()
}
