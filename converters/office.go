package converters

import (
	"context"
	"path/filepath"

	"fileconvert/exttool"
	"fileconvert/formats"
)

type officeTarget struct {
	filter string
	outExt string
}

// officeTargets are the targets LibreOffice can export.
var officeTargets = map[string]officeTarget{
	"pdf":  {"pdf", "pdf"},
	"docx": {"docx", "docx"},
	"doc":  {"doc", "doc"},
	"odt":  {"odt", "odt"},
	"rtf":  {"rtf", "rtf"},
	"txt":  {"txt:Text (encoded):UTF8", "txt"},
	"html": {"html", "html"},
	"htm":  {"html", "html"},
	"xlsx": {"xlsx", "xlsx"},
	"xls":  {"xls", "xls"},
	"ods":  {"ods", "ods"},
	"csv":  {"csv:Text - txt - csv (StarCalc):44,34,76", "csv"},
	"tsv":  {"csv:Text - txt - csv (StarCalc):9,34,76", "csv"},
	"pptx": {"pptx", "pptx"},
	"ppt":  {"ppt", "ppt"},
	"odp":  {"odp", "odp"},
}

// officeInputName names the scratch input so LibreOffice picks an import
// filter. Text-like formats it does not know are opened as plain text.
func officeInputName(source formats.Format) string {
	switch source.ID {
	case "md", "json", "yaml", "yml", "xml", "ini", "tex", "asc":
		return "input.txt"
	}
	return "input." + source.Extension
}

func canOfficeExport(target string) bool {
	_, ok := officeTargets[target]
	return ok
}

// runLibreOffice converts input with soffice --headless --convert-to.
func runLibreOffice(ctx context.Context, soffice exttool.Tool, root string, input []byte, source formats.Format, target string) ([]byte, error) {
	export, ok := officeTargets[target]
	if !ok {
		export = officeTarget{filter: target, outExt: target}
	}

	var out []byte
	err := withScratch(root, func(dir string) error {
		in := officeInputName(source)
		if err := writeInput(dir, in, input); err != nil {
			return err
		}
		_, err := soffice.Run(ctx, dir,
			"--headless",
			"--norestore",
			"-env:UserInstallation=file://"+filepath.ToSlash(filepath.Join(dir, "profile")),
			"--convert-to", export.filter,
			"--outdir", "out",
			in,
		)
		if err != nil {
			return err
		}
		out, err = readOutput(filepath.Join(dir, "out"), "input."+export.outExt, soffice.Name)
		return err
	})
	return out, err
}
