package converters

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"fileconvert/exttool"
	"fileconvert/formats"

	"github.com/go-ini/ini"
)

// SpecializedConverter handles LaTeX, INI, XMind and the help/notebook
// formats that only LibreOffice can open.
type SpecializedConverter struct {
	pdflatex exttool.Tool
	soffice  exttool.Tool
	docs     documentRenderer
	scratch  string
}

func NewSpecializedConverter(tb Toolbox, docs documentRenderer) *SpecializedConverter {
	return &SpecializedConverter{pdflatex: tb.PDFLatex, soffice: tb.LibreOffice, docs: docs, scratch: tb.ScratchDir}
}

func (c *SpecializedConverter) Family() formats.Family { return formats.FamilySpecializedDocument }

func (c *SpecializedConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategorySpecialized && Sniff(input, f.ID)
}

func (c *SpecializedConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, _ Options) ([]byte, error) {
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	switch source.ID {
	case "tex":
		if target.ID == "pdf" {
			return c.latex(ctx, input)
		}
		text, err := toUTF8(input)
		if err != nil {
			return nil, corrupt(source, "decode text", err)
		}
		return c.fromText(ctx, stripLaTeX(string(normalizeNewlines(text))), source, target)
	case "ini":
		if target.ID == "json" {
			return iniToJSON(input, source)
		}
		text, err := toUTF8(input)
		if err != nil {
			return nil, corrupt(source, "decode text", err)
		}
		return c.fromText(ctx, string(normalizeNewlines(text)), source, target)
	case "xmind":
		return c.xmind(ctx, input, source, target)
	}

	if !canOfficeExport(target.ID) {
		return nil, unsupported(c, source, target)
	}
	return runLibreOffice(ctx, c.soffice, c.scratch, input, source, target.ID)
}

// fromText renders extracted plain text as the requested document.
func (c *SpecializedConverter) fromText(ctx context.Context, text string, source, target formats.Format) ([]byte, error) {
	switch target.ID {
	case "txt":
		return []byte(text), nil
	case "html":
		return textToHTML(source.Description, []byte(text)), nil
	case "json":
		return json.MarshalIndent(map[string]string{"text": text}, "", "  ")
	}
	txt, err := formats.Default().Lookup("txt")
	if err != nil {
		return nil, err
	}
	return c.docs.Render(ctx, []byte(text), txt, target)
}

func (c *SpecializedConverter) latex(ctx context.Context, input []byte) ([]byte, error) {
	var out []byte
	err := withScratch(c.scratch, func(dir string) error {
		if err := writeInput(dir, "input.tex", input); err != nil {
			return err
		}
		_, err := c.pdflatex.Run(ctx, dir,
			"-interaction=nonstopmode",
			"-halt-on-error",
			"-no-shell-escape",
			"input.tex",
		)
		if err != nil {
			return err
		}
		out, err = readOutput(dir, "input.pdf", c.pdflatex.Name)
		return err
	})
	return out, err
}

var (
	texComment     = regexp.MustCompile(`(?m)(^|[^\\])%.*$`)
	texEnvironment = regexp.MustCompile(`\\(begin|end)\{[^}]*\}`)
	texWithArg     = regexp.MustCompile(`\\[a-zA-Z]+\*?(\[[^\]]*\])?\{([^{}]*)\}`)
	texCommand     = regexp.MustCompile(`\\[a-zA-Z]+\*?(\[[^\]]*\])?`)
)

// stripLaTeX drops markup and keeps the arguments of text commands.
func stripLaTeX(src string) string {
	if i := strings.Index(src, `\begin{document}`); i >= 0 {
		src = src[i:]
	}
	src = texComment.ReplaceAllString(src, "$1")
	src = texEnvironment.ReplaceAllString(src, "")
	for prev := ""; prev != src; {
		prev = src
		src = texWithArg.ReplaceAllString(src, "$2")
	}
	src = texCommand.ReplaceAllString(src, "")
	src = strings.NewReplacer("{", "", "}", "", `\\`, "\n", "~", " ").Replace(src)
	return collapseBlankLines(src)
}

// iniToJSON maps sections to objects. Keys before the first section sit at the top level.
func iniToJSON(input []byte, source formats.Format) ([]byte, error) {
	file, err := ini.LoadSources(ini.LoadOptions{SkipUnrecognizableLines: true}, bytes.TrimPrefix(input, utf8BOM))
	if err != nil {
		return nil, corrupt(source, "parse ini", err)
	}
	root := map[string]any{}
	for _, sec := range file.Sections() {
		target := root
		if sec.Name() != ini.DefaultSection {
			target = map[string]any{}
			root[sec.Name()] = target
		}
		for _, key := range sec.Keys() {
			target[key.Name()] = key.Value()
		}
	}
	return json.MarshalIndent(root, "", "  ")
}

type xmindTopic struct {
	Title    string `json:"title"`
	Children struct {
		Attached []xmindTopic `json:"attached"`
	} `json:"children"`
}

type xmindSheet struct {
	Title     string     `json:"title"`
	RootTopic xmindTopic `json:"rootTopic"`
}

func (c *SpecializedConverter) xmind(ctx context.Context, input []byte, source, target formats.Format) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(input), int64(len(input)))
	if err != nil {
		return nil, corrupt(source, "open archive", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	content, err := readZipFile(files, "content.json")
	if err != nil {
		if canOfficeExport(target.ID) {
			return runLibreOffice(ctx, c.soffice, c.scratch, input, source, target.ID)
		}
		return nil, unsupported(c, source, target)
	}

	var sheets []xmindSheet
	if err := json.Unmarshal(content, &sheets); err != nil {
		return nil, corrupt(source, "parse content.json", err)
	}
	if target.ID == "json" {
		return json.MarshalIndent(sheets, "", "  ")
	}

	var b strings.Builder
	for _, sheet := range sheets {
		if sheet.Title != "" {
			fmt.Fprintf(&b, "# %s\n", sheet.Title)
		}
		writeOutline(&b, sheet.RootTopic, 0)
		b.WriteString("\n")
	}
	return c.fromText(ctx, b.String(), source, target)
}

func writeOutline(b *strings.Builder, t xmindTopic, depth int) {
	b.WriteString(strings.Repeat("  ", depth) + "- " + t.Title + "\n")
	for _, child := range t.Children.Attached {
		writeOutline(b, child, depth+1)
	}
}
