package pyramidbuild

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"

	"gigatile/internal/pyramid"
	"gigatile/internal/tile"
)

// Background fills canvas pixels outside the source image (#ddd).
var Background = color.RGBA{R: 221, G: 221, B: 221, A: 255}

// ImageSource cuts finest level tiles out of a raster image at its native
// resolution, anchored top-left. Requires vips.Startup.
//
// Tiles are expected row by row: the image rows under one tile row are decoded
// once and kept until a tile of another row is requested. Not safe for
// concurrent use.
type ImageSource struct {
	path   string
	layout *pyramid.Layout
	width  int
	height int

	// strip holds RGBA rows [stripTop, stripTop+stripRows) of the full image
	// width, already composited over Background, for tile row stripY.
	stripY    int
	stripTop  int
	stripRows int
	strip     []byte
}

func NewImageSource(path string, layout *pyramid.Layout) (*ImageSource, error) {
	width, height, err := ImageDim(path)
	if err != nil {
		return nil, err
	}

	return &ImageSource{
		path:   path,
		layout: layout,
		width:  width,
		height: height,
		stripY: -1,
	}, nil
}

// ImageDim returns the width and height of the image at path.
func ImageDim(path string) (int, int, error) {
	img, err := loadImage(path, vips.AccessSequential)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()
	return img.Width(), img.Height(), nil
}

func (s *ImageSource) RenderTile(c tile.Coordinate, dst []byte) error {
	if c.Level != 0 {
		return fmt.Errorf("image source only renders level 0, got %s", c)
	}

	realDim := int(s.layout.RealTileDim())
	originX := int(c.X)*int(s.layout.TileDim()) - int(s.layout.Overlap())
	originY := int(c.Y)*int(s.layout.TileDim()) - int(s.layout.Overlap())

	dst = dst[:realDim*realDim*pyramid.BytesPerPixel]
	for i := 0; i < len(dst); i += pyramid.BytesPerPixel {
		dst[i], dst[i+1], dst[i+2], dst[i+3] = Background.R, Background.G, Background.B, Background.A
	}

	// Clamp the tile window to the image; edge tiles keep the background.
	area := image.Rect(originX, originY, originX+realDim, originY+realDim).
		Intersect(image.Rect(0, 0, s.width, s.height))
	if area.Empty() {
		return nil
	}

	if s.stripY != int(c.Y) {
		if err := s.loadStrip(area.Min.Y, area.Dy()); err != nil {
			return err
		}
		s.stripY = int(c.Y)
	}

	rowBytes := area.Dx() * pyramid.BytesPerPixel
	for gy := area.Min.Y; gy < area.Max.Y; gy++ {
		from := ((gy-s.stripTop)*s.width + area.Min.X) * pyramid.BytesPerPixel
		to := ((gy-originY)*realDim + area.Min.X - originX) * pyramid.BytesPerPixel
		copy(dst[to:to+rowBytes], s.strip[from:from+rowBytes])
	}
	return nil
}

// loadStrip decodes rows [top, top+rows) across the full image width.
func (s *ImageSource) loadStrip(top, rows int) error {
	img, err := loadImage(s.path, vips.AccessRandom)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	if err := img.ExtractArea(0, top, s.width, rows); err != nil {
		return fmt.Errorf("failed to extract area: %w", err)
	}

	raw, err := img.RawsaveBuffer(vips.DefaultRawsaveBufferOptions())
	if err != nil {
		return fmt.Errorf("failed to export area: %w", err)
	}

	if need := s.width * rows * pyramid.BytesPerPixel; cap(s.strip) < need {
		s.strip = make([]byte, need)
	} else {
		s.strip = s.strip[:need]
	}
	if err := compositeRGBA(raw, img.Bands(), s.strip); err != nil {
		return err
	}

	s.stripTop = top
	s.stripRows = rows
	return nil
}

// compositeRGBA converts 8-bit samples with the given band count (gray, gray +
// alpha, RGB, RGBA) into opaque RGBA over Background.
func compositeRGBA(raw []byte, bands int, dst []byte) error {
	if bands < 1 || bands > 4 {
		return fmt.Errorf("unsupported band count %d", bands)
	}
	pixels := len(dst) / pyramid.BytesPerPixel
	if len(raw) != pixels*bands {
		return fmt.Errorf("got %d bytes for %d pixels of %d bands, only 8-bit samples are supported", len(raw), pixels, bands)
	}

	for i := 0; i < pixels; i++ {
		px := raw[i*bands : (i+1)*bands]
		var r, g, b, a uint8
		switch bands {
		case 1:
			r, g, b, a = px[0], px[0], px[0], 255
		case 2:
			r, g, b, a = px[0], px[0], px[0], px[1]
		case 3:
			r, g, b, a = px[0], px[1], px[2], 255
		case 4:
			r, g, b, a = px[0], px[1], px[2], px[3]
		}

		out := dst[i*pyramid.BytesPerPixel : (i+1)*pyramid.BytesPerPixel]
		out[0] = over(r, Background.R, a)
		out[1] = over(g, Background.G, a)
		out[2] = over(b, Background.B, a)
		out[3] = 255
	}
	return nil
}

// over blends src with alpha a onto an opaque bg, rounding to nearest.
func over(src, bg, a uint8) uint8 {
	return uint8((uint32(src)*uint32(a) + uint32(bg)*(255-uint32(a)) + 127) / 255)
}

// loadImage loads an image based on file extension
func loadImage(path string, access vips.Access) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %s", ext)
	}
}
