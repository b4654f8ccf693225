// Package encoding turns raw RGBA tiles into web image formats.
package encoding

import (
	"fmt"
	"strings"

	"github.com/cshum/vipsgen/vips"
)

type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// ParseFormat accepts a file extension with or without the leading dot.
func ParseFormat(ext string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	default:
		return "", fmt.Errorf("unsupported tile format: %s", ext)
	}
}

func (f Format) ContentType() string {
	if f == JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Encoder converts a square RGBA buffer of dim x dim pixels.
type Encoder interface {
	Encode(pixels []byte, dim int, format Format) ([]byte, error)
}

// VipsEncoder encodes with libvips. vips.Startup must have been called.
type VipsEncoder struct {
	JPEGQuality int
}

func (e VipsEncoder) Encode(pixels []byte, dim int, format Format) ([]byte, error) {
	if len(pixels) != dim*dim*4 {
		return nil, fmt.Errorf("tile has %d bytes, want %d", len(pixels), dim*dim*4)
	}

	switch format {
	case JPEG:
		// JPEG has no alpha channel
		image, err := vips.NewImageFromMemory(dropAlpha(pixels), dim, dim, 3)
		if err != nil {
			return nil, fmt.Errorf("failed to load pixels: %w", err)
		}
		defer image.Close()

		jpegOpts := vips.DefaultJpegsaveBufferOptions()
		jpegOpts.Q = e.JPEGQuality
		jpegOpts.Interlace = false
		data, err := image.JpegsaveBuffer(jpegOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to export: %w", err)
		}
		return data, nil
	case PNG:
		image, err := vips.NewImageFromMemory(pixels, dim, dim, 4)
		if err != nil {
			return nil, fmt.Errorf("failed to load pixels: %w", err)
		}
		defer image.Close()

		data, err := image.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to export: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported tile format: %s", format)
	}
}

func dropAlpha(rgba []byte) []byte {
	rgb := make([]byte, len(rgba)/4*3)
	for i, j := 0, 0; i < len(rgba); i, j = i+4, j+3 {
		copy(rgb[j:j+3], rgba[i:i+3])
	}
	return rgb
}

// Interior crops the overlap border off a realDim x realDim RGBA tile and returns
// the cropped pixels with their edge length.
func Interior(pixels []byte, realDim, overlap int) ([]byte, int) {
	if overlap == 0 {
		return pixels, realDim
	}
	dim := realDim - 2*overlap
	out := make([]byte, dim*dim*4)
	for y := 0; y < dim; y++ {
		src := ((y+overlap)*realDim + overlap) * 4
		copy(out[y*dim*4:(y+1)*dim*4], pixels[src:src+dim*4])
	}
	return out, dim
}
