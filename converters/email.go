package converters

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"fileconvert/exttool"
	"fileconvert/formats"

	"github.com/jhillyerd/enmime"
	"gopkg.in/yaml.v3"
)

// documentRenderer turns an intermediate document into another document format.
type documentRenderer interface {
	Render(ctx context.Context, input []byte, source, target formats.Format) ([]byte, error)
}

// EmailConverter renders email messages as documents. EML is parsed with
// enmime; Outlook MSG goes through LibreOffice.
type EmailConverter struct {
	soffice exttool.Tool
	docs    documentRenderer
	scratch string
}

func NewEmailConverter(tb Toolbox, docs documentRenderer) *EmailConverter {
	return &EmailConverter{soffice: tb.LibreOffice, docs: docs, scratch: tb.ScratchDir}
}

func (c *EmailConverter) Family() formats.Family { return formats.FamilyEmail }

func (c *EmailConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryEmail && Sniff(input, f.ID)
}

type emailAttachment struct {
	Name        string `json:"name" yaml:"name"`
	ContentType string `json:"contentType" yaml:"contentType"`
	Size        int    `json:"size" yaml:"size"`
}

type emailDocument struct {
	From        string            `json:"from" yaml:"from"`
	To          string            `json:"to" yaml:"to"`
	Cc          string            `json:"cc,omitempty" yaml:"cc,omitempty"`
	Subject     string            `json:"subject" yaml:"subject"`
	Date        string            `json:"date" yaml:"date"`
	Text        string            `json:"text" yaml:"text"`
	HTML        string            `json:"html,omitempty" yaml:"html,omitempty"`
	Attachments []emailAttachment `json:"attachments" yaml:"attachments"`
}

// Produces covers document targets only; Outlook messages additionally
// need a target LibreOffice can export.
func (c *EmailConverter) Produces(source, target formats.Format) bool {
	if target.Category != formats.CategoryDocument {
		return false
	}
	return source.ID != "msg" || canOfficeExport(target.ID)
}

func (c *EmailConverter) Convert(ctx context.Context, input []byte, source, target formats.Format, _ Options) ([]byte, error) {
	if !c.Produces(source, target) {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}

	if source.ID == "msg" {
		return runLibreOffice(ctx, c.soffice, c.scratch, input, source, target.ID)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(input))
	if err != nil {
		return nil, corrupt(source, "parse message", err)
	}
	msg := newEmailDocument(env)

	switch target.ID {
	case "txt", "md":
		return []byte(msg.plainText()), nil
	case "html", "htm":
		return msg.html(), nil
	case "json":
		return json.MarshalIndent(msg, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(msg)
	}

	html, err := formats.Default().Lookup("html")
	if err != nil {
		return nil, err
	}
	return c.docs.Render(ctx, msg.html(), html, target)
}

func newEmailDocument(env *enmime.Envelope) emailDocument {
	msg := emailDocument{
		From:        env.GetHeader("From"),
		To:          env.GetHeader("To"),
		Cc:          env.GetHeader("Cc"),
		Subject:     env.GetHeader("Subject"),
		Date:        env.GetHeader("Date"),
		Text:        env.Text,
		HTML:        env.HTML,
		Attachments: []emailAttachment{},
	}
	for _, part := range env.Attachments {
		msg.Attachments = append(msg.Attachments, emailAttachment{
			Name:        part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
		})
	}
	return msg
}

func (m emailDocument) headerLines() []string {
	lines := []string{"From: " + m.From, "To: " + m.To}
	if m.Cc != "" {
		lines = append(lines, "Cc: "+m.Cc)
	}
	return append(lines, "Subject: "+m.Subject, "Date: "+m.Date)
}

func (m emailDocument) plainText() string {
	var b strings.Builder
	for _, l := range m.headerLines() {
		b.WriteString(l + "\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(string(normalizeNewlines([]byte(m.Text)))))
	b.WriteString("\n")
	if len(m.Attachments) > 0 {
		b.WriteString("\nAttachments:\n")
		for _, a := range m.Attachments {
			b.WriteString("- " + a.Name + " (" + a.ContentType + ")\n")
		}
	}
	return b.String()
}

// html renders the message with its headers. The HTML body is preferred over
// the text part.
func (m emailDocument) html() []byte {
	if m.HTML == "" {
		return textToHTML(m.Subject, []byte(m.plainText()))
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>")
	b.WriteString(escapeHTML(m.Subject))
	b.WriteString("</title></head>\n<body>\n<table class=\"headers\">\n")
	for _, l := range m.headerLines() {
		name, value, _ := strings.Cut(l, ": ")
		b.WriteString("<tr><th>" + escapeHTML(name) + "</th><td>" + escapeHTML(value) + "</td></tr>\n")
	}
	b.WriteString("</table>\n<hr>\n")
	b.WriteString(m.HTML)
	b.WriteString("\n</body>\n</html>\n")
	return []byte(b.String())
}
