package converters

import (
	"bytes"
	"encoding/json"

	"github.com/gabriel-vasile/mimetype"
)

// signatures maps format ids to the MIME types whose detection covers them.
// Container formats match on the container, e.g. every OOXML file is a zip.
var signatures = map[string][]string{
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"gif":  {"image/gif"},
	"webp": {"image/webp"},
	"bmp":  {"image/bmp"},
	"dib":  {"image/bmp"},
	"tiff": {"image/tiff"},
	"tif":  {"image/tiff"},
	"heic": {"image/heic", "image/heif", "image/avif"},
	"heif": {"image/heic", "image/heif", "image/avif"},
	"avif": {"image/heic", "image/heif", "image/avif"},
	"pdf":  {"application/pdf"},
	"rtf":  {"text/rtf"},
	"chm":  {"application/vnd.ms-htmlhelp"},
	"xcf":  {"image/x-xcf"},
	"pbm":  {"image/x-portable-bitmap"},
	"pgm":  {"image/x-portable-graymap"},
	"ppm":  {"image/x-portable-pixmap"},

	"docx": {"application/zip"}, "xlsx": {"application/zip"}, "pptx": {"application/zip"},
	"odt": {"application/zip"}, "ods": {"application/zip"}, "odp": {"application/zip"},
	"epub": {"application/zip"}, "xmind": {"application/zip"}, "key": {"application/zip"},

	"doc": {"application/x-ole-storage"}, "xls": {"application/x-ole-storage"},
	"ppt": {"application/x-ole-storage"}, "msg": {"application/x-ole-storage"},
}

// Sniff reports whether input plausibly holds the given format. Formats
// without a reliable signature only need to be non-empty; text formats must
// look like text.
func Sniff(input []byte, formatID string) bool {
	if len(input) == 0 {
		return false
	}
	if mimes, ok := signatures[formatID]; ok {
		return detectedAs(input, mimes...)
	}
	switch formatID {
	case "mobi", "prc", "azw3":
		return detectedAs(input, "application/x-mobipocket-ebook") || isPalmDoc(input)
	case "ics", "vcs":
		return looksText(input) && bytes.Contains(bytes.ToUpper(head(input)), []byte("BEGIN:VCALENDAR"))
	case "vcf":
		return looksText(input) && bytes.Contains(bytes.ToUpper(head(input)), []byte("BEGIN:VCARD"))
	case "json":
		return json.Valid(input)
	case "txt", "csv", "tsv", "html", "htm", "md", "xml", "yaml", "yml", "eml", "tex", "ini",
		"bas", "asm", "cbl", "pas", "vbp", "asc":
		return looksText(input)
	case "dng", "nef", "cr2", "crw", "arw", "orf", "pef", "rw2":
		return bytes.HasPrefix(input, []byte("II")) || bytes.HasPrefix(input, []byte("MM"))
	case "raf":
		return bytes.HasPrefix(input, []byte("FUJIFILM"))
	case "pcx":
		return input[0] == 0x0A
	case "hdr":
		return bytes.HasPrefix(input, []byte("#?RADIANCE")) || bytes.HasPrefix(input, []byte("#?RGBE"))
	}
	return true
}

// detectedAs walks the detected type and its ancestors.
func detectedAs(input []byte, mimes ...string) bool {
	for m := mimetype.Detect(input); m != nil; m = m.Parent() {
		for _, want := range mimes {
			if m.Is(want) {
				return true
			}
		}
	}
	return false
}

// isPalmDoc matches the PalmDOC container older .prc books use.
func isPalmDoc(input []byte) bool {
	return len(input) >= 68 && bytes.Equal(input[60:68], []byte("TEXtREAd"))
}

func head(input []byte) []byte {
	if len(input) > 8192 {
		return input[:8192]
	}
	return input
}

// looksText rejects NUL bytes in the first 8 KiB. Invalid UTF-8 is allowed,
// legacy encodings are common.
func looksText(input []byte) bool {
	return bytes.IndexByte(head(input), 0) < 0
}
