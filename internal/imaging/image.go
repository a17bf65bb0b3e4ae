package imaging

import (
	"fmt"
	"image"
	"os"

	xdraw "golang.org/x/image/draw"

	"github.com/zombor/pricescan/internal/failure"
)

const (
	// MaxFileSize is the largest source file accepted without downscaling
	MaxFileSize = 10 << 20
	// MinDimension is the smallest accepted width or height
	MinDimension = 100
)

// Image is a decoded receipt photograph. Pixels are never mutated once
// assigned; every operation produces a new buffer.
type Image struct {
	Pixels     *image.NRGBA
	SourcePath string
	ByteSize   int64
	Format     string
}

// Width returns the pixel width
func (i *Image) Width() int {
	return i.Pixels.Bounds().Dx()
}

// Height returns the pixel height
func (i *Image) Height() int {
	return i.Pixels.Bounds().Dy()
}

// with returns a copy of the image metadata holding new pixels
func (i *Image) with(p *image.NRGBA) *Image {
	return &Image{Pixels: p, SourcePath: i.SourcePath, ByteSize: i.ByteSize, Format: i.Format}
}

// LoadOptions controls validation in Load
type LoadOptions struct {
	// AllowDownscale accepts files above MaxFileSize; they are shrunk to
	// MaxDimension right after decoding
	AllowDownscale bool
	MaxDimension   int
}

// Load reads, validates and decodes an image file
func Load(path string, opts LoadOptions) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, failure.Classify(fmt.Errorf("stat %s: %w", path, err))
	}
	if info.IsDir() {
		return nil, failure.Newf(failure.CodeUnsupportedFormat, "%s is a directory", path)
	}
	if info.Size() > MaxFileSize && !opts.AllowDownscale {
		return nil, failure.Newf(failure.CodeTooLarge, "%s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Classify(fmt.Errorf("reading %s: %w", path, err))
	}

	img, err := FromBytes(data, contentTypeFor(path, data))
	if err != nil {
		return nil, err
	}
	img.SourcePath = path

	if info.Size() > MaxFileSize && opts.MaxDimension > 0 {
		img = img.with(Resize(img.Pixels, opts.MaxDimension, true))
	}
	return img, nil
}

// FromBytes decodes and validates an in-memory image
func FromBytes(data []byte, contentType string) (*Image, error) {
	if len(data) == 0 {
		return nil, failure.New(failure.CodeCorrupted, "empty image data")
	}

	decoded, format, err := decode(data, contentType)
	if err != nil {
		return nil, err
	}

	b := decoded.Bounds()
	if b.Dx() < MinDimension || b.Dy() < MinDimension {
		return nil, failure.Newf(failure.CodeTooSmall, "image is %dx%d, minimum is %dx%d", b.Dx(), b.Dy(), MinDimension, MinDimension)
	}

	return &Image{
		Pixels:   toNRGBA(decoded),
		ByteSize: int64(len(data)),
		Format:   format,
	}, nil
}

// toNRGBA copies any image into a zero-origin NRGBA buffer
func toNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}
