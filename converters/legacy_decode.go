package converters

import (
	"bytes"
	"errors"
	"image"
	"image/color"

	"github.com/spakin/netpbm"
)

var errNoNativeDecoder = errors.New("no in-process decoder")

// decodeLegacy decodes the legacy formats handled without ImageMagick.
func decodeLegacy(input []byte, id string) (image.Image, error) {
	switch id {
	case "pbm", "pgm", "ppm":
		return decodePNM(input)
	case "wbmp":
		return decodeWBMP(input)
	case "dib":
		return decodeImage(input, "bmp")
	}
	return nil, errNoNativeDecoder
}

func decodePNM(input []byte) (image.Image, error) {
	cfg, err := netpbm.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	img, err := netpbm.Decode(bytes.NewReader(input), nil)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func decodeWBMP(input []byte) (image.Image, error) {
	if len(input) < 4 || input[0] != 0 {
		return nil, errors.New("wbmp: unsupported type")
	}
	pos := 2
	readInt := func() (int, error) {
		n := 0
		for i := 0; i < 4; i++ {
			if pos >= len(input) {
				return 0, errors.New("wbmp: truncated header")
			}
			b := input[pos]
			pos++
			n = n<<7 | int(b&0x7F)
			if b&0x80 == 0 {
				return n, nil
			}
		}
		return 0, errors.New("wbmp: bad integer")
	}
	width, err := readInt()
	if err != nil {
		return nil, err
	}
	height, err := readInt()
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(width, height); err != nil {
		return nil, err
	}
	stride := (width + 7) / 8
	if len(input)-pos < stride*height {
		return nil, errors.New("wbmp: truncated pixel data")
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := input[pos+y*stride:]
		for x := 0; x < width; x++ {
			if row[x/8]>>(7-uint(x%8))&1 == 1 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}
