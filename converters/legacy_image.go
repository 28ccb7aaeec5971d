package converters

import (
	"context"
	"errors"
	"fmt"

	"fileconvert/exttool"
	"fileconvert/formats"
)

// LegacyImageConverter converts legacy raster formats into modern image formats.
// In-process decoders are tried first, ImageMagick second. TGA always goes
// through ImageMagick.
type LegacyImageConverter struct {
	magick  exttool.Tool
	scratch string
}

func NewLegacyImageConverter(tb Toolbox) *LegacyImageConverter {
	return &LegacyImageConverter{magick: tb.ImageMagick, scratch: tb.ScratchDir}
}

func (c *LegacyImageConverter) Family() formats.Family { return formats.FamilyLegacyImage }

func (c *LegacyImageConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryLegacyImage && Sniff(input, f.ID)
}

func (c *LegacyImageConverter) Produces(_, target formats.Format) bool {
	return target.Category == formats.CategoryImage && canEncode(target.ID)
}

func (c *LegacyImageConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, opts Options) ([]byte, error) {
	if !c.Produces(source, target) {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	img, nativeErr := decodeLegacy(input, source.ID)
	if errors.Is(nativeErr, errImageTooLarge) {
		return nil, corrupt(source, "image too large", nativeErr)
	}
	if nativeErr != nil {
		var magickErr error
		img, magickErr = magickDecode(ctx, c.magick, c.scratch, input, source)
		if magickErr != nil {
			if errors.Is(nativeErr, errNoNativeDecoder) {
				return nil, magickErr
			}
			return nil, fmt.Errorf("native decode: %v; %w", nativeErr, magickErr)
		}
	}
	return renderImage(img, target.ID, opts)
}
