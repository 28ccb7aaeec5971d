package formats

// Category groups formats with shared conversion semantics.
type Category string

const (
	CategoryImage        Category = "image"
	CategoryDocument     Category = "document"
	CategorySpreadsheet  Category = "spreadsheet"
	CategoryPresentation Category = "presentation"
	CategoryCalendar     Category = "calendar"
	CategoryEbook        Category = "ebook"
	CategoryEmail        Category = "email"
	CategoryRaw          Category = "raw"
	CategoryLegacyImage  Category = "legacy-image"
	CategoryProgramming  Category = "programming"
	CategorySpecialized  Category = "specialized-document"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryImage,
	CategoryDocument,
	CategorySpreadsheet,
	CategoryPresentation,
	CategoryCalendar,
	CategoryEbook,
	CategoryEmail,
	CategoryRaw,
	CategoryLegacyImage,
	CategoryProgramming,
	CategorySpecialized,
}

// Format describes one registered file format.
type Format struct {
	ID          string   `json:"id"`
	Category    Category `json:"category"`
	Extension   string   `json:"extension"`
	MimeType    string   `json:"mimeType"`
	Description string   `json:"description"`
}

// ImageCapable reports whether resize/quality options make sense for f.
func (f Format) ImageCapable() bool {
	return f.Category == CategoryImage
}

func format(id string, cat Category, mime, desc string) Format {
	return Format{ID: id, Category: cat, Extension: id, MimeType: mime, Description: desc}
}

// catalog is the compiled-in format table.
var catalog = []Format{
	format("jpg", CategoryImage, "image/jpeg", "JPEG image"),
	format("jpeg", CategoryImage, "image/jpeg", "JPEG image"),
	format("png", CategoryImage, "image/png", "Portable Network Graphics"),
	format("gif", CategoryImage, "image/gif", "Graphics Interchange Format"),
	format("webp", CategoryImage, "image/webp", "WebP image"),
	format("bmp", CategoryImage, "image/bmp", "Windows bitmap"),
	format("tiff", CategoryImage, "image/tiff", "Tagged Image File Format"),
	format("tif", CategoryImage, "image/tiff", "Tagged Image File Format"),
	format("heic", CategoryImage, "image/heic", "High Efficiency Image Container"),
	format("heif", CategoryImage, "image/heif", "High Efficiency Image Format"),
	format("avif", CategoryImage, "image/avif", "AV1 Image File Format"),

	format("pdf", CategoryDocument, "application/pdf", "Portable Document Format"),
	format("docx", CategoryDocument, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "Word document"),
	format("doc", CategoryDocument, "application/msword", "Word 97-2003 document"),
	format("odt", CategoryDocument, "application/vnd.oasis.opendocument.text", "OpenDocument text"),
	format("rtf", CategoryDocument, "application/rtf", "Rich Text Format"),
	format("txt", CategoryDocument, "text/plain", "Plain text"),
	format("html", CategoryDocument, "text/html", "HTML document"),
	format("htm", CategoryDocument, "text/html", "HTML document"),
	format("md", CategoryDocument, "text/markdown", "Markdown"),
	format("json", CategoryDocument, "application/json", "JSON data"),
	format("xml", CategoryDocument, "application/xml", "XML data"),
	format("yaml", CategoryDocument, "application/yaml", "YAML data"),
	format("yml", CategoryDocument, "application/yaml", "YAML data"),

	format("xlsx", CategorySpreadsheet, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "Excel workbook"),
	format("xls", CategorySpreadsheet, "application/vnd.ms-excel", "Excel 97-2003 workbook"),
	format("ods", CategorySpreadsheet, "application/vnd.oasis.opendocument.spreadsheet", "OpenDocument spreadsheet"),
	format("csv", CategorySpreadsheet, "text/csv", "Comma-separated values"),
	format("tsv", CategorySpreadsheet, "text/tab-separated-values", "Tab-separated values"),

	format("pptx", CategoryPresentation, "application/vnd.openxmlformats-officedocument.presentationml.presentation", "PowerPoint presentation"),
	format("ppt", CategoryPresentation, "application/vnd.ms-powerpoint", "PowerPoint 97-2003 presentation"),
	format("odp", CategoryPresentation, "application/vnd.oasis.opendocument.presentation", "OpenDocument presentation"),
	format("key", CategoryPresentation, "application/vnd.apple.keynote", "Keynote presentation"),

	format("ics", CategoryCalendar, "text/calendar", "iCalendar"),
	format("vcs", CategoryCalendar, "text/x-vcalendar", "vCalendar 1.0"),
	format("vcf", CategoryCalendar, "text/vcard", "vCard contact"),

	format("epub", CategoryEbook, "application/epub+zip", "EPUB e-book"),
	format("mobi", CategoryEbook, "application/x-mobipocket-ebook", "Mobipocket e-book"),
	format("prc", CategoryEbook, "application/x-mobipocket-ebook", "Palm resource e-book"),
	format("azw3", CategoryEbook, "application/vnd.amazon.ebook", "Kindle KF8 e-book"),

	format("eml", CategoryEmail, "message/rfc822", "Email message"),
	format("msg", CategoryEmail, "application/vnd.ms-outlook", "Outlook message"),

	format("dng", CategoryRaw, "image/x-adobe-dng", "Adobe Digital Negative"),
	format("nef", CategoryRaw, "image/x-nikon-nef", "Nikon RAW"),
	format("cr2", CategoryRaw, "image/x-canon-cr2", "Canon RAW 2"),
	format("crw", CategoryRaw, "image/x-canon-crw", "Canon RAW"),
	format("arw", CategoryRaw, "image/x-sony-arw", "Sony RAW"),
	format("orf", CategoryRaw, "image/x-olympus-orf", "Olympus RAW"),
	format("pef", CategoryRaw, "image/x-pentax-pef", "Pentax RAW"),
	format("raf", CategoryRaw, "image/x-fuji-raf", "Fujifilm RAW"),
	format("rw2", CategoryRaw, "image/x-panasonic-rw2", "Panasonic RAW"),
	format("raw", CategoryRaw, "image/x-raw", "Generic camera RAW"),

	format("pcx", CategoryLegacyImage, "image/x-pcx", "ZSoft Paintbrush"),
	format("tga", CategoryLegacyImage, "image/x-tga", "Truevision TGA"),
	format("dib", CategoryLegacyImage, "image/bmp", "Device-independent bitmap"),
	format("pgm", CategoryLegacyImage, "image/x-portable-graymap", "Portable graymap"),
	format("ppm", CategoryLegacyImage, "image/x-portable-pixmap", "Portable pixmap"),
	format("pbm", CategoryLegacyImage, "image/x-portable-bitmap", "Portable bitmap"),
	format("wbmp", CategoryLegacyImage, "image/vnd.wap.wbmp", "Wireless bitmap"),
	format("pict", CategoryLegacyImage, "image/x-pict", "Apple PICT"),
	format("xcf", CategoryLegacyImage, "image/x-xcf", "GIMP image"),
	format("hdr", CategoryLegacyImage, "image/vnd.radiance", "Radiance HDR"),

	format("bas", CategoryProgramming, "text/x-basic", "BASIC source"),
	format("asm", CategoryProgramming, "text/x-asm", "Assembly source"),
	format("cbl", CategoryProgramming, "text/x-cobol", "COBOL source"),
	format("pas", CategoryProgramming, "text/x-pascal", "Pascal source"),
	format("vbp", CategoryProgramming, "text/plain", "Visual Basic project"),
	format("asc", CategoryProgramming, "text/plain", "ASCII source listing"),

	format("tex", CategorySpecialized, "application/x-tex", "LaTeX source"),
	format("chm", CategorySpecialized, "application/vnd.ms-htmlhelp", "Compiled HTML help"),
	format("one", CategorySpecialized, "application/onenote", "OneNote section"),
	format("xmind", CategorySpecialized, "application/vnd.xmind.workbook", "XMind map"),
	format("ini", CategorySpecialized, "text/plain", "INI configuration"),
}
