package processor

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/media/size"
	"github.com/nfnt/resize"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 90

// Resizer turns one source image into one variant.
type Resizer interface {
	Resize(input io.ReadSeeker, filename string, spec size.Spec) (*Variant, error)
}

// NativeProcessor implements Resizer with pure Go codecs. Decoding sniffs the
// real source format (JPEG, PNG, GIF, BMP, WebP); the output format follows
// the filename.
type NativeProcessor struct {
	jpegQuality int
}

func NewNativeProcessor(jpegQuality int) *NativeProcessor {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &NativeProcessor{jpegQuality: jpegQuality}
}

func (p *NativeProcessor) Resize(input io.ReadSeeker, filename string, spec size.Spec) (*Variant, error) {
	if spec.Dimension <= 0 {
		return nil, apperrors.NewInvalid("dimension", spec.Dimension, "must be positive")
	}
	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return nil, apperrors.NewDecode(fmt.Errorf("rewind input: %w", err))
	}

	src, err := decode(input)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	width, height := TargetSize(bounds.Dx(), bounds.Dy(), spec)

	var out image.Image = src
	if width != bounds.Dx() || height != bounds.Dy() {
		out = resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
	}

	format := FormatFor(filename)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format, imaging.JPEGQuality(p.jpegQuality)); err != nil {
		return nil, apperrors.NewEncode(format.String(), err)
	}

	return &Variant{
		Tag:         spec.Tag,
		Data:        buf.Bytes(),
		Format:      format,
		ContentType: ContentType(format),
		Width:       out.Bounds().Dx(),
		Height:      out.Bounds().Dy(),
	}, nil
}

// decode returns the source as an 8-bit NRGBA raster.
func decode(r io.Reader) (*image.NRGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, apperrors.NewDecode(err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperrors.NewDecode(fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
	}
	return imaging.Clone(img), nil
}

// TargetSize computes the variant dimensions for a srcW x srcH source. The
// result never exceeds min(src, dimension) on either axis.
func TargetSize(srcW, srcH int, spec size.Spec) (int, int) {
	boundW := min(srcW, spec.Dimension)
	boundH := min(srcH, spec.Dimension)

	if spec.Mode != size.PreserveAspectByWidth {
		return boundW, boundH
	}

	width := boundW
	height := scale(srcH, width, srcW)
	if height > boundH {
		height = boundH
		width = min(scale(srcW, height, srcH), boundW)
	}
	return max(width, 1), max(height, 1)
}

// scale returns round(v * num / den).
func scale(v, num, den int) int {
	return int(math.Round(float64(v) * float64(num) / float64(den)))
}
