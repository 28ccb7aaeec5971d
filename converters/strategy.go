// Package converters holds one conversion strategy per format family. Every
// strategy works on in-memory bytes; anything that needs an external binary
// goes through exttool inside a private scratch directory.
package converters

import (
	"context"

	"fileconvert/apperrors"
	"fileconvert/exttool"
	"fileconvert/formats"
	"fileconvert/models"
)

type Strategy interface {
	Family() formats.Family
	Convert(ctx context.Context, input []byte, source, target formats.Format, opts Options) ([]byte, error)
	Validate(input []byte, format formats.Format) bool
}

// Producer is implemented by strategies that can tell from the formats alone
// whether they produce target from source. Strategies without it are assumed
// to produce every pair the rule table routes to them.
type Producer interface {
	Produces(source, target formats.Format) bool
}

// PDFRenderer renders office documents to PDF over a remote service.
type PDFRenderer interface {
	ConvertToPDF(ctx context.Context, filename string, data []byte) ([]byte, error)
}

const DefaultQuality = 90

// Options are the per-job knobs. They only affect image-capable targets.
type Options struct {
	Quality     int
	Compression bool
	Width       int
	Height      int
}

func OptionsFromJob(job *models.ConversionJob) Options {
	opts := Options{Quality: DefaultQuality}
	if job.Quality != nil && *job.Quality > 0 && *job.Quality <= 100 {
		opts.Quality = *job.Quality
	}
	if job.Compression != nil {
		opts.Compression = *job.Compression
	}
	if w, ok := job.OptionInt("width"); ok && w > 0 {
		opts.Width = w
	}
	if h, ok := job.OptionInt("height"); ok && h > 0 {
		opts.Height = h
	}
	return opts
}

// Toolbox is the set of external binaries available to the strategies.
type Toolbox struct {
	LibreOffice exttool.Tool
	ImageMagick exttool.Tool
	Dcraw       exttool.Tool
	RawTherapee exttool.Tool
	Calibre     exttool.Tool
	PDFLatex    exttool.Tool
	ScratchDir  string
}

// DefaultToolbox uses the conventional binary names.
func DefaultToolbox() Toolbox {
	return Toolbox{
		LibreOffice: exttool.Tool{Name: "libreoffice", Binary: "soffice"},
		ImageMagick: exttool.Tool{Name: "imagemagick", Binary: "magick"},
		Dcraw:       exttool.Tool{Name: "dcraw", Binary: "dcraw"},
		RawTherapee: exttool.Tool{Name: "rawtherapee", Binary: "rawtherapee-cli"},
		Calibre:     exttool.Tool{Name: "calibre", Binary: "ebook-convert"},
		PDFLatex:    exttool.Tool{Name: "pdflatex", Binary: "pdflatex"},
	}
}

// Tools lists every binary in the toolbox.
func (tb Toolbox) Tools() []exttool.Tool {
	return []exttool.Tool{tb.LibreOffice, tb.ImageMagick, tb.Dcraw, tb.RawTherapee, tb.Calibre, tb.PDFLatex}
}

// All builds one strategy per family. pdf may be nil.
func All(tb Toolbox, pdf PDFRenderer) []Strategy {
	docs := NewDocumentConverter(tb, pdf)
	return []Strategy{
		NewImageConverter(tb),
		docs,
		NewCalendarConverter(),
		NewEbookConverter(tb),
		NewEmailConverter(tb, docs),
		NewLegacyImageConverter(tb),
		NewProgrammingConverter(),
		NewCameraRawConverter(tb),
		NewSpecializedConverter(tb, docs),
	}
}

func unsupported(s Strategy, source, target formats.Format) error {
	return &apperrors.UnsupportedPairError{Strategy: string(s.Family()), Source: source.ID, Target: target.ID}
}

func corrupt(f formats.Format, reason string, err error) error {
	return &apperrors.CorruptInputError{Format: f.ID, Reason: reason, Err: err}
}

// checkInput rejects empty input and bytes that do not match the declared format.
func checkInput(input []byte, f formats.Format) error {
	if len(input) == 0 {
		return corrupt(f, "empty input", nil)
	}
	if !Sniff(input, f.ID) {
		return corrupt(f, "content does not match declared format", nil)
	}
	return nil
}
