// Package fixture builds encoded test images and observable loggers shared by
// the package tests.
package fixture

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/leeforge/imageresize/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/image/bmp"
)

// Gradient returns a w x h image whose pixels vary along both axes, so
// resized output is never a flat colour.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

// Encode renders a Gradient in format: jpeg, png, gif or bmp.
func Encode(t testing.TB, format string, w, h int) []byte {
	t.Helper()
	img := Gradient(w, h)
	var buf bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "gif":
		require.NoError(t, gif.Encode(&buf, img, nil))
	case "bmp":
		require.NoError(t, bmp.Encode(&buf, img))
	default:
		t.Fatalf("unknown fixture format %s", format)
	}
	return buf.Bytes()
}

func JPEG(t testing.TB, w, h int) []byte { return Encode(t, "jpeg", w, h) }
func PNG(t testing.TB, w, h int) []byte  { return Encode(t, "png", w, h) }
func BMP(t testing.TB, w, h int) []byte  { return Encode(t, "bmp", w, h) }

// Decode reports the format and bounds of encoded image data.
func Decode(t testing.TB, data []byte) (format string, width, height int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return format, cfg.Width, cfg.Height
}

// ObservedLogger returns a Logger that records every entry at or above level.
func ObservedLogger(level zapcore.Level) (logging.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return logging.FromZap(zap.New(core)), logs
}
