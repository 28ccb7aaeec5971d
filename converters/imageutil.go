package converters

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// encodableImages are the targets written in-process.
var encodableImages = map[string]imaging.Format{
	"jpg":  imaging.JPEG,
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
	"tif":  imaging.TIFF,
}

func canEncode(id string) bool {
	if id == "webp" {
		return true
	}
	_, ok := encodableImages[id]
	return ok
}

// canDecode reports whether a source is decoded in-process.
func canDecode(id string) bool {
	switch id {
	case "jpg", "jpeg", "png", "gif", "bmp", "dib", "tiff", "tif", "webp":
		return true
	}
	return false
}

// maxPixels bounds every in-process decode. At four bytes a pixel the
// largest accepted image needs 512 MiB.
const maxPixels = 1 << 27

var errImageTooLarge = errors.New("image dimensions exceed the decode limit")

// checkDimensions is called with header dimensions before any pixel buffer
// is allocated.
func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("bad image dimensions %dx%d", width, height)
	}
	if width > maxPixels/height {
		return fmt.Errorf("%w: %dx%d", errImageTooLarge, width, height)
	}
	return nil
}

func decodeImage(input []byte, id string) (image.Image, error) {
	if id == "webp" {
		cfg, err := webp.DecodeConfig(bytes.NewReader(input))
		if err != nil {
			return nil, err
		}
		if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
		return webp.Decode(bytes.NewReader(input))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
}

// fit shrinks img to fit inside width×height. A zero bound is unconstrained;
// images are never enlarged.
func fit(img image.Image, width, height int) image.Image {
	if width <= 0 && height <= 0 {
		return img
	}
	b := img.Bounds()
	if width <= 0 {
		width = b.Dx()
	}
	if height <= 0 {
		height = b.Dy()
	}
	if b.Dx() <= width && b.Dy() <= height {
		return img
	}
	return imaging.Fit(img, width, height, imaging.Lanczos)
}

// flatten composites img onto white; JPEG has no alpha.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func encodeImage(img image.Image, id string, opts Options) ([]byte, error) {
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if id == "webp" {
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return buf.Bytes(), nil
	}

	f, ok := encodableImages[id]
	if !ok {
		return nil, fmt.Errorf("no encoder for %s", id)
	}

	var encOpts []imaging.EncodeOption
	switch f {
	case imaging.JPEG:
		if opts.Compression && quality > 75 {
			quality = 75
		}
		img = flatten(img)
		encOpts = append(encOpts, imaging.JPEGQuality(quality))
	case imaging.PNG:
		level := png.DefaultCompression
		if opts.Compression {
			level = png.BestCompression
		}
		encOpts = append(encOpts, imaging.PNGCompressionLevel(level))
	}

	if err := imaging.Encode(&buf, img, f, encOpts...); err != nil {
		return nil, fmt.Errorf("encode %s: %w", id, err)
	}
	return buf.Bytes(), nil
}

// renderImage applies the resize options and encodes img as target.
func renderImage(img image.Image, target string, opts Options) ([]byte, error) {
	return encodeImage(fit(img, opts.Width, opts.Height), target, opts)
}
