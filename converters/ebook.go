package converters

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"fileconvert/exttool"
	"fileconvert/formats"

	nethtml "golang.org/x/net/html"
)

const maxChapterSize = 64 << 20

// EbookConverter extracts EPUB text natively and hands every other pair to
// Calibre's ebook-convert.
type EbookConverter struct {
	calibre exttool.Tool
	scratch string
}

func NewEbookConverter(tb Toolbox) *EbookConverter {
	return &EbookConverter{calibre: tb.Calibre, scratch: tb.ScratchDir}
}

func (c *EbookConverter) Family() formats.Family { return formats.FamilyEbook }

func (c *EbookConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryEbook && Sniff(input, f.ID)
}

func (c *EbookConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, _ Options) ([]byte, error) {
	if source.Category != formats.CategoryEbook {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	if source.ID == "epub" && (target.ID == "txt" || target.ID == "html") {
		chapters, err := readEPUB(input)
		if err != nil {
			return nil, corrupt(source, "read epub", err)
		}
		if target.ID == "txt" {
			return chaptersToText(chapters)
		}
		return chaptersToHTML(chapters)
	}

	var out []byte
	err := withScratch(c.scratch, func(dir string) error {
		in := "input." + source.Extension
		outName := "output." + target.Extension
		if err := writeInput(dir, in, input); err != nil {
			return err
		}
		if _, err := c.calibre.Run(ctx, dir, in, outName); err != nil {
			return err
		}
		var err error
		out, err = readOutput(dir, outName, c.calibre.Name)
		return err
	})
	return out, err
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Title    string `xml:"metadata>title"`
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// readEPUB returns the spine documents in reading order.
func readEPUB(input []byte) ([][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(input), int64(len(input)))
	if err != nil {
		return nil, err
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var container epubContainer
	if err := readZipXML(files, "META-INF/container.xml", &container); err != nil {
		return nil, err
	}
	if len(container.Rootfiles) == 0 {
		return nil, errors.New("container lists no rootfile")
	}
	opfPath := container.Rootfiles[0].FullPath

	var pkg epubPackage
	if err := readZipXML(files, opfPath, &pkg); err != nil {
		return nil, err
	}
	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}

	base := path.Dir(opfPath)
	var chapters [][]byte
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		name := path.Clean(path.Join(base, href))
		data, err := readZipFile(files, name)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, data)
	}
	if len(chapters) == 0 {
		return nil, errors.New("spine is empty")
	}
	return chapters, nil
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("missing %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxChapterSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxChapterSize {
		return nil, fmt.Errorf("%s is too large", name)
	}
	return data, nil
}

func readZipXML(files map[string]*zip.File, name string, v any) error {
	data, err := readZipFile(files, name)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func chaptersToText(chapters [][]byte) ([]byte, error) {
	var b bytes.Buffer
	for i, ch := range chapters {
		text, err := htmlToText(bytes.NewReader(ch))
		if err != nil {
			return nil, err
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.Write(text)
	}
	return b.Bytes(), nil
}

func chaptersToHTML(chapters [][]byte) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"></head>\n<body>\n")
	for _, ch := range chapters {
		doc, err := nethtml.Parse(bytes.NewReader(ch))
		if err != nil {
			return nil, err
		}
		body := findElement(doc, "body")
		if body == nil {
			continue
		}
		b.WriteString("<section>\n")
		for n := body.FirstChild; n != nil; n = n.NextSibling {
			if err := nethtml.Render(&b, n); err != nil {
				return nil, err
			}
		}
		b.WriteString("\n</section>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.Bytes(), nil
}

func findElement(n *nethtml.Node, tag string) *nethtml.Node {
	if n.Type == nethtml.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
