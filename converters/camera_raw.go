package converters

import (
	"context"
	"fmt"

	"fileconvert/exttool"
	"fileconvert/formats"
)

// CameraRawConverter develops camera RAW files through a TIFF intermediate.
// dcraw is tried first, rawtherapee-cli second.
type CameraRawConverter struct {
	dcraw       exttool.Tool
	rawtherapee exttool.Tool
	scratch     string
}

func NewCameraRawConverter(tb Toolbox) *CameraRawConverter {
	return &CameraRawConverter{dcraw: tb.Dcraw, rawtherapee: tb.RawTherapee, scratch: tb.ScratchDir}
}

func (c *CameraRawConverter) Family() formats.Family { return formats.FamilyCameraRaw }

func (c *CameraRawConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryRaw && Sniff(input, f.ID)
}

// Produces is limited to image targets; RAW formats are never written.
func (c *CameraRawConverter) Produces(_, target formats.Format) bool {
	return target.Category == formats.CategoryImage && canEncode(target.ID)
}

func (c *CameraRawConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, opts Options) ([]byte, error) {
	if !c.Produces(source, target) {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	var tiff []byte
	err := withScratch(c.scratch, func(dir string) error {
		in := "input." + source.Extension
		if err := writeInput(dir, in, input); err != nil {
			return err
		}

		res, dcrawErr := c.dcraw.Run(ctx, dir, "-c", "-w", "-T", in)
		if dcrawErr == nil && len(res.Stdout) > 0 {
			tiff = res.Stdout
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if dcrawErr == nil {
			dcrawErr = fmt.Errorf("dcraw produced no output")
		}

		if _, err := c.rawtherapee.Run(ctx, dir, "-o", "output.tif", "-t", "-Y", "-c", in); err != nil {
			return fmt.Errorf("dcraw: %v; rawtherapee: %w", dcrawErr, err)
		}
		out, err := readOutput(dir, "output.tif", c.rawtherapee.Name)
		if err != nil {
			return fmt.Errorf("dcraw: %v; rawtherapee: %w", dcrawErr, err)
		}
		tiff = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	img, err := decodeImage(tiff, "tiff")
	if err != nil {
		return nil, corrupt(source, "decode developed image", err)
	}
	return renderImage(img, target.ID, opts)
}
