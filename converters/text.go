package converters

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	nethtml "golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

func delimiter(id string) rune {
	if id == "tsv" {
		return '\t'
	}
	return ','
}

func readTable(input []byte, id string) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(input, utf8BOM)))
	r.Comma = delimiter(id)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func writeTable(rows [][]string, id string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter(id)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tableToJSON renders rows as an array of objects keyed by the header row.
func tableToJSON(rows [][]string) ([]byte, error) {
	records := make([]map[string]string, 0, len(rows))
	if len(rows) > 0 {
		header := rows[0]
		for _, row := range rows[1:] {
			rec := make(map[string]string, len(header))
			for i, key := range header {
				if i < len(row) {
					rec[key] = row[i]
				} else {
					rec[key] = ""
				}
			}
			records = append(records, rec)
		}
	}
	return json.MarshalIndent(records, "", "  ")
}

// jsonToTable flattens an array of objects into a header row plus one row per
// object. Non-string values are written as JSON.
func jsonToTable(input []byte) ([][]string, error) {
	var items []map[string]any
	if err := json.Unmarshal(input, &items); err != nil {
		return nil, fmt.Errorf("expected an array of objects: %w", err)
	}
	keySet := map[string]struct{}{}
	for _, item := range items {
		for k := range item {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := [][]string{keys}
	for _, item := range items {
		row := make([]string, len(keys))
		for i, k := range keys {
			switch v := item[k].(type) {
			case nil:
			case string:
				row[i] = v
			default:
				b, err := json.Marshal(v)
				if err != nil {
					return nil, err
				}
				row[i] = string(b)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func jsonToYAML(input []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return nil, err
	}
	return yaml.Marshal(v)
}

func yamlToJSON(input []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(input, &v); err != nil {
		return nil, err
	}
	return json.MarshalIndent(v, "", "  ")
}

var skipTextTags = map[string]bool{"script": true, "style": true, "head": true, "noscript": true}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "section": true, "article": true,
	"table": true, "ul": true, "ol": true, "blockquote": true, "pre": true, "hr": true,
}

// htmlToText extracts readable text from an HTML document.
func htmlToText(r io.Reader) ([]byte, error) {
	z := nethtml.NewTokenizer(r)
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			if z.Err() == io.EOF {
				return []byte(collapseBlankLines(b.String())), nil
			}
			return nil, z.Err()
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTextTags[tag] {
				skip++
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTextTags[tag] && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case nethtml.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}

// textToHTML wraps plain text in a minimal HTML document.
func textToHTML(title string, text []byte) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head>\n<body>\n<pre>")
	b.WriteString(html.EscapeString(string(text)))
	b.WriteString("</pre>\n</body>\n</html>\n")
	return []byte(b.String())
}

func escapeHTML(s string) string { return html.EscapeString(s) }
