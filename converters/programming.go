package converters

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"fileconvert/formats"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ProgrammingConverter turns legacy source files into UTF-8 plain text.
type ProgrammingConverter struct{}

func NewProgrammingConverter() *ProgrammingConverter { return &ProgrammingConverter{} }

func (c *ProgrammingConverter) Family() formats.Family { return formats.FamilyProgramming }

func (c *ProgrammingConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryProgramming && Sniff(input, f.ID)
}

func (c *ProgrammingConverter) Produces(source, target formats.Format) bool {
	return source.Category == formats.CategoryProgramming && target.ID == "txt"
}

func (c *ProgrammingConverter) Convert(_ context.Context, input []byte, source, target formats.Format, _ Options) ([]byte, error) {
	if !c.Produces(source, target) {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	text, err := toUTF8(input)
	if err != nil {
		return nil, corrupt(source, "decode text", err)
	}
	return normalizeNewlines(text), nil
}

// toUTF8 strips a UTF-8 BOM or decodes the input as Windows-1252.
func toUTF8(input []byte) ([]byte, error) {
	input = bytes.TrimPrefix(input, utf8BOM)
	if utf8.Valid(input) {
		return input, nil
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(input)
	if err != nil {
		return nil, fmt.Errorf("windows-1252: %w", err)
	}
	return out, nil
}

func normalizeNewlines(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}
