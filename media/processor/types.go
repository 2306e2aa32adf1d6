package processor

import (
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Variant is one encoded output of a resize.
type Variant struct {
	Tag         string
	Data        []byte
	Format      imaging.Format
	ContentType string
	Width       int
	Height      int
}

// FormatFor picks the output encoding from the filename extension. Anything
// that is not png, bmp or gif, including a missing extension, becomes JPEG.
func FormatFor(filename string) imaging.Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return imaging.PNG
	case ".bmp":
		return imaging.BMP
	case ".gif":
		return imaging.GIF
	default:
		return imaging.JPEG
	}
}

func ContentType(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.BMP:
		return "image/bmp"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}
