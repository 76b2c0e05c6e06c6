// Package imaging decodes images and renders fixed-height thumbnails.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ThumbnailHeight is the height of the thumbnail variant.
const ThumbnailHeight = 200

// DefaultMaxPixels caps the declared width*height of a decoded image.
const DefaultMaxPixels = 40_000_000

var (
	// ErrUnsupportedImage is returned when no registered decoder accepts the body.
	ErrUnsupportedImage = errors.New("unsupported image")
	// ErrImageTooLarge is returned when the declared dimensions exceed the
	// pixel cap. The pixel buffer is never allocated.
	ErrImageTooLarge = errors.New("image too large")
)

// Rendition is a processed image: the original bytes and a PNG thumbnail.
type Rendition struct {
	// Format is the decoder name ("png", "jpeg", "gif", "webp", ...).
	Format    string
	Width     int
	Height    int
	Full      []byte
	Thumbnail []byte
}

// Prepare is PrepareWithLimit with DefaultMaxPixels.
func Prepare(body []byte) (*Rendition, error) {
	return PrepareWithLimit(body, DefaultMaxPixels)
}

// PrepareWithLimit decodes body and renders a ThumbnailHeight-high PNG
// thumbnail preserving aspect ratio. The full variant is the original bytes.
// Images whose header declares more than maxPixels pixels are rejected
// before decoding; a non-positive maxPixels means DefaultMaxPixels.
func PrepareWithLimit(body []byte, maxPixels int64) (*Rendition, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	thumb, err := EncodePNG(Resize(img, ThumbnailHeight))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &Rendition{
		Format:    format,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Full:      body,
		Thumbnail: thumb,
	}, nil
}

// Resize scales img to height, keeping the aspect ratio. Width is at least 1.
func Resize(img image.Image, height int) image.Image {
	b := img.Bounds()
	if b.Dy() == 0 || height <= 0 {
		return img
	}
	width := int(float64(b.Dx()) * float64(height) / float64(b.Dy()))
	if width < 1 {
		width = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
