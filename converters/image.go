package converters

import (
	"context"
	"image"

	"fileconvert/exttool"
	"fileconvert/formats"
)

// ImageConverter converts between raster image formats.
type ImageConverter struct {
	magick  exttool.Tool
	scratch string
}

func NewImageConverter(tb Toolbox) *ImageConverter {
	return &ImageConverter{magick: tb.ImageMagick, scratch: tb.ScratchDir}
}

func (c *ImageConverter) Family() formats.Family { return formats.FamilyImage }

func (c *ImageConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryImage && Sniff(input, f.ID)
}

func (c *ImageConverter) Produces(source, target formats.Format) bool {
	return source.Category == formats.CategoryImage && canEncode(target.ID)
}

func (c *ImageConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, opts Options) ([]byte, error) {
	if !c.Produces(source, target) {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	var img image.Image
	var err error
	if canDecode(source.ID) {
		img, err = decodeImage(input, source.ID)
		if err != nil {
			return nil, corrupt(source, "decode failed", err)
		}
	} else {
		img, err = magickDecode(ctx, c.magick, c.scratch, input, source)
		if err != nil {
			return nil, err
		}
	}
	return renderImage(img, target.ID, opts)
}

// magickDecode has ImageMagick rewrite input as PNG and decodes the result.
func magickDecode(ctx context.Context, magick exttool.Tool, root string, input []byte, source formats.Format) (image.Image, error) {
	var img image.Image
	err := withScratch(root, func(dir string) error {
		in := "input." + source.Extension
		if err := writeInput(dir, in, input); err != nil {
			return err
		}
		if _, err := magick.Run(ctx, dir, in+"[0]", "output.png"); err != nil {
			return err
		}
		out, err := readOutput(dir, "output.png", magick.Name)
		if err != nil {
			return err
		}
		img, err = decodeImage(out, "png")
		if err != nil {
			return corrupt(source, "decode failed", err)
		}
		return nil
	})
	return img, err
}
