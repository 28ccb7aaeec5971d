package converters

import (
	"bytes"
	"context"
	"fmt"

	"fileconvert/exttool"
	"fileconvert/formats"
)

// DocumentConverter converts within and across the document, spreadsheet and
// presentation categories. Text-table and data formats are handled natively;
// everything else is rendered by LibreOffice, or by the PDF renderer when one
// is configured and the target is pdf.
type DocumentConverter struct {
	soffice exttool.Tool
	pdf     PDFRenderer
	scratch string
}

func NewDocumentConverter(tb Toolbox, pdf PDFRenderer) *DocumentConverter {
	return &DocumentConverter{soffice: tb.LibreOffice, pdf: pdf, scratch: tb.ScratchDir}
}

func (c *DocumentConverter) Family() formats.Family { return formats.FamilyDocument }

func (c *DocumentConverter) Validate(input []byte, f formats.Format) bool {
	return Sniff(input, f.ID)
}

func (c *DocumentConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, _ Options) ([]byte, error) {
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	out, handled, err := convertNative(input, source, target)
	if handled {
		if err != nil {
			return nil, corrupt(source, "parse", err)
		}
		return out, nil
	}

	switch {
	case target.ID == "json" && isSpreadsheet(source):
		table, err := runLibreOffice(ctx, c.soffice, c.scratch, input, source, "csv")
		if err != nil {
			return nil, err
		}
		rows, err := readTable(table, "csv")
		if err != nil {
			return nil, corrupt(source, "parse exported table", err)
		}
		return tableToJSON(rows)
	case target.ID == "pdf" && c.pdf != nil:
		return c.pdf.ConvertToPDF(ctx, officeInputName(source), input)
	case canOfficeExport(target.ID):
		return runLibreOffice(ctx, c.soffice, c.scratch, input, source, target.ID)
	}
	return nil, unsupported(c, source, target)
}

// Render exposes the LibreOffice path to strategies that produce an office
// document as an intermediate.
func (c *DocumentConverter) Render(ctx context.Context, input []byte, source, target formats.Format) ([]byte, error) {
	return c.Convert(ctx, input, source, target, Options{})
}

func isSpreadsheet(f formats.Format) bool {
	return f.Category == formats.CategorySpreadsheet && f.ID != "csv" && f.ID != "tsv"
}

// convertNative handles pairs that need no external tool. handled is false
// when the pair has no native path.
func convertNative(input []byte, source, target formats.Format) (out []byte, handled bool, err error) {
	s, t := source.ID, target.ID
	switch {
	case (s == "csv" || s == "tsv") && (t == "csv" || t == "tsv"):
		rows, err := readTable(input, s)
		if err != nil {
			return nil, true, err
		}
		out, err := writeTable(rows, t)
		return out, true, err
	case (s == "csv" || s == "tsv") && t == "json":
		rows, err := readTable(input, s)
		if err != nil {
			return nil, true, err
		}
		out, err := tableToJSON(rows)
		return out, true, err
	case s == "json" && (t == "csv" || t == "tsv"):
		rows, err := jsonToTable(input)
		if err != nil {
			return nil, true, err
		}
		out, err := writeTable(rows, t)
		return out, true, err
	case s == "json" && (t == "yaml" || t == "yml"):
		out, err := jsonToYAML(input)
		return out, true, err
	case (s == "yaml" || s == "yml") && t == "json":
		out, err := yamlToJSON(input)
		return out, true, err
	case (s == "yaml" || s == "yml") && (t == "yaml" || t == "yml"):
		return input, true, nil
	case (s == "html" || s == "htm") && (t == "html" || t == "htm"):
		return input, true, nil
	case (s == "html" || s == "htm") && t == "txt":
		out, err := htmlToText(bytes.NewReader(input))
		return out, true, err
	case (s == "txt" || s == "md") && (t == "html" || t == "htm"):
		text, err := toUTF8(input)
		if err != nil {
			return nil, true, err
		}
		return textToHTML("Document", normalizeNewlines(text)), true, nil
	case (s == "md" && t == "txt") || (s == "txt" && t == "md"):
		text, err := toUTF8(input)
		if err != nil {
			return nil, true, fmt.Errorf("decode text: %w", err)
		}
		return normalizeNewlines(text), true, nil
	}
	return nil, false, nil
}
