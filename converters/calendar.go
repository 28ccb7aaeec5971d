package converters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"fileconvert/formats"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
)

const calendarProdID = "-//fileconvert//EN"

// CalendarConverter swaps between iCalendar 2.0 and vCalendar 1.0 and exports
// events and contacts as tables.
type CalendarConverter struct{}

func NewCalendarConverter() *CalendarConverter { return &CalendarConverter{} }

func (c *CalendarConverter) Family() formats.Family { return formats.FamilyCalendar }

func (c *CalendarConverter) Validate(input []byte, f formats.Format) bool {
	return f.Category == formats.CategoryCalendar && Sniff(input, f.ID)
}

// Produces allows the ics/vcs version swap and table exports; contacts
// never become calendars.
func (c *CalendarConverter) Produces(source, target formats.Format) bool {
	tabular := target.ID == "csv" || target.ID == "json"
	switch source.ID {
	case "ics":
		return target.ID == "vcs" || tabular
	case "vcs":
		return target.ID == "ics" || tabular
	case "vcf":
		return tabular
	}
	return false
}

func (c *CalendarConverter) Convert(_ context.Context, input []byte, source, target formats.Format, _ Options) ([]byte, error) {
	if !c.Produces(source, target) {
		return nil, unsupported(c, source, target)
	}
	if err := checkInput(input, source); err != nil {
		return nil, err
	}
	input = crlf(input)

	tabular := target.ID == "csv" || target.ID == "json"
	switch {
	case source.ID == "vcf" && tabular:
		cards, err := decodeCards(input)
		if err != nil {
			return nil, corrupt(source, "parse vcard", err)
		}
		return exportRecords(contactRecords(cards), contactColumns, target.ID)
	case source.ID == "ics" && target.ID == "vcs", source.ID == "vcs" && target.ID == "ics":
		cals, err := decodeCalendars(input)
		if err != nil {
			return nil, corrupt(source, "parse calendar", err)
		}
		return encodeCalendars(cals, calendarVersion[target.ID])
	case (source.ID == "ics" || source.ID == "vcs") && tabular:
		cals, err := decodeCalendars(input)
		if err != nil {
			return nil, corrupt(source, "parse calendar", err)
		}
		return exportRecords(eventRecords(cals), eventColumns, target.ID)
	}
	return nil, unsupported(c, source, target)
}

var calendarVersion = map[string]string{"ics": "2.0", "vcs": "1.0"}

// crlf drops a BOM and rewrites line endings as CRLF, the only ending the
// content-line decoders accept.
func crlf(input []byte) []byte {
	text := normalizeNewlines(bytes.TrimPrefix(input, utf8BOM))
	return bytes.ReplaceAll(text, []byte("\n"), []byte("\r\n"))
}

func decodeCalendars(input []byte) ([]*ical.Calendar, error) {
	dec := ical.NewDecoder(bytes.NewReader(input))
	var cals []*ical.Calendar
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	if len(cals) == 0 {
		return nil, errors.New("no calendar found")
	}
	return cals, nil
}

func decodeCards(input []byte) ([]vcard.Card, error) {
	dec := vcard.NewDecoder(bytes.NewReader(input))
	var cards []vcard.Card
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

// encodeCalendars rewrites the VERSION of every calendar. vCalendar 1.0 has
// no VTIMEZONE support, so TZID parameters are dropped and times become floating.
func encodeCalendars(cals []*ical.Calendar, version string) ([]byte, error) {
	var buf bytes.Buffer
	enc := ical.NewEncoder(&buf)
	for _, cal := range cals {
		cal.Props.SetText(ical.PropVersion, version)
		if cal.Props.Get(ical.PropProductID) == nil {
			cal.Props.SetText(ical.PropProductID, calendarProdID)
		}
		if version == "1.0" {
			dropTimezones(cal.Component)
		}
		if err := enc.Encode(cal); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func dropTimezones(comp *ical.Component) {
	for _, props := range comp.Props {
		for i := range props {
			delete(props[i].Params, ical.ParamTimezoneID)
		}
	}
	kept := comp.Children[:0]
	for _, child := range comp.Children {
		if child.Name == ical.CompTimezone {
			continue
		}
		dropTimezones(child)
		kept = append(kept, child)
	}
	comp.Children = kept
}

type column struct {
	header string
	props  []string
}

var eventColumns = []column{
	{"summary", []string{ical.PropSummary}},
	{"start", []string{ical.PropDateTimeStart}},
	{"end", []string{ical.PropDateTimeEnd}},
	{"location", []string{ical.PropLocation}},
	{"description", []string{ical.PropDescription}},
	{"uid", []string{ical.PropUID}},
}

var contactColumns = []column{
	{"name", []string{vcard.FieldFormattedName, vcard.FieldName}},
	{"email", []string{vcard.FieldEmail}},
	{"phone", []string{vcard.FieldTelephone}},
	{"organization", []string{vcard.FieldOrganization}},
	{"title", []string{vcard.FieldTitle}},
	{"address", []string{vcard.FieldAddress}},
	{"note", []string{vcard.FieldNote}},
}

// eventRecords takes the top-level events of every calendar; alarms and
// other nested components are ignored.
func eventRecords(cals []*ical.Calendar) []map[string]string {
	var records []map[string]string
	for _, cal := range cals {
		for _, ev := range cal.Events() {
			rec := map[string]string{}
			for _, col := range eventColumns {
				for _, name := range col.props {
					prop := ev.Props.Get(name)
					if prop == nil {
						continue
					}
					text, err := prop.Text()
					if err != nil {
						text = prop.Value
					}
					rec[col.header] = text
					break
				}
			}
			records = append(records, rec)
		}
	}
	return records
}

// contactRecords uses each card's preferred value; the first listed
// property that is present wins.
func contactRecords(cards []vcard.Card) []map[string]string {
	records := make([]map[string]string, 0, len(cards))
	for _, card := range cards {
		rec := map[string]string{}
		for _, col := range contactColumns {
			for _, name := range col.props {
				if v := card.PreferredValue(name); v != "" {
					rec[col.header] = fieldText(name, v)
					break
				}
			}
		}
		records = append(records, rec)
	}
	return records
}

// fieldText unescapes a vCard value; structured values are joined with spaces.
func fieldText(name, v string) string {
	if name == vcard.FieldName || name == vcard.FieldAddress || name == vcard.FieldOrganization {
		parts := strings.Split(v, ";")
		kept := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				kept = append(kept, p)
			}
		}
		v = strings.Join(kept, " ")
	}
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(v)
}

func exportRecords(records []map[string]string, cols []column, target string) ([]byte, error) {
	if target == "json" {
		if records == nil {
			records = []map[string]string{}
		}
		return json.MarshalIndent(records, "", "  ")
	}
	rows := make([][]string, 0, len(records)+1)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.header
	}
	rows = append(rows, header)
	for _, rec := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = rec[c.header]
		}
		rows = append(rows, row)
	}
	return writeTable(rows, "csv")
}
