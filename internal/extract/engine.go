// Package extract turns raw job-offer documents into offer.Offer records.
//
// Markup documents are driven by a selector.Site: every declared field is
// dispatched on its instruction kind, and each field succeeds or fails on its
// own. Feed records (already structured JSON) map directly via FromFeedRecord.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"joboffers/internal/metrics"
	"joboffers/internal/offer"
	"joboffers/internal/selector"
)

// Engine extracts offers from parsed documents. It holds no per-document
// state and never mutates the selector spec it is given.
type Engine struct {
	log     *zap.Logger
	metrics metrics.Backend
}

// NewEngine builds an Engine. A nil logger or backend disables that output.
func NewEngine(log *zap.Logger, m metrics.Backend) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:     log.With(zap.String("component", "extract")),
		metrics: metrics.OrNop(m),
	}
}

// Result is the outcome of extracting one document: the offer with every
// column present (unset ones nil) and the field-scoped failures.
type Result struct {
	Offer  offer.Offer
	Errors []error
}

// fieldResult carries either a field value or the reason it is missing.
type fieldResult[T any] struct {
	value T
	err   error
}

func okResult[T any](v T) fieldResult[T]       { return fieldResult[T]{value: v} }
func failResult[T any](err error) fieldResult[T] { return fieldResult[T]{err: err} }

// ExtractReader parses r as HTML and extracts it. Only an unparseable
// document is returned as an error.
func (e *Engine) ExtractReader(r io.Reader, site selector.Site, link string) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Result{}, &ConfigError{Source: site.Source, Reason: "parse document", Err: err}
	}
	return e.Extract(doc, site, link), nil
}

// Extract applies every field instruction of site to doc. link may be empty
// when the document location is unknown (saved files).
func (e *Engine) Extract(doc *goquery.Document, site selector.Site, link string) Result {
	b := &builder{}
	b.o.Source = offer.Str(site.Source)
	if link != "" {
		b.o.Link = offer.Str(link)
	}

	for _, f := range site.Fields {
		e.extractField(doc.Selection, f, b)
	}

	for _, err := range b.errs {
		field, kind := describe(err)
		e.log.Warn("field extraction failed",
			zap.String("source", site.Source),
			zap.String("link", link),
			zap.String("title", offer.Value(b.o.Title)),
			zap.String("field", field),
			zap.Error(err),
		)
		e.metrics.IncCounter(metrics.FieldErrorsTotal, 1, metrics.Labels{"field": field, "kind": kind})
	}

	return Result{Offer: b.o, Errors: b.errs}
}

// extractField is the single dispatch point over instruction kinds.
func (e *Engine) extractField(root *goquery.Selection, f selector.Field, b *builder) {
	in := f.Instruction

	switch in.Kind {
	case selector.KindSimple:
		b.setText(f.Name, simpleText(root, f.Name, in))

	case selector.KindEmbeddedDate:
		b.setText("date_add", embeddedDate(root, f.Name, in))

	case selector.KindSalary:
		r := salaryBlocks(root, f.Name, in)
		if r.err != nil {
			b.fail(r.err)
			return
		}
		b.o.Salary = r.value

	case selector.KindDetails:
		rows, err := detailRows(root, f.Name, in)
		if err != nil {
			b.fail(err)
			return
		}
		for _, d := range rows {
			b.setText(d.field, d.result)
		}

	case selector.KindTechnologyLevel:
		r := technologyRows(root, f.Name, in)
		if r.err != nil {
			b.fail(r.err)
			return
		}
		b.o.TechStack = r.value

	default:
		b.fail(&ConfigError{Reason: fmt.Sprintf("field %s: unsupported instruction kind %s", f.Name, in.Kind)})
	}
}

// builder accumulates field results into an Offer. A text field is written
// once: the first successful result wins.
type builder struct {
	o    offer.Offer
	errs []error
}

func (b *builder) fail(err error) { b.errs = append(b.errs, err) }

func (b *builder) setText(field string, r fieldResult[string]) {
	if r.err != nil {
		b.fail(r.err)
		return
	}
	slot := b.slot(field)
	if slot == nil {
		b.fail(&ConfigError{Reason: fmt.Sprintf("field %s is not a text column", field)})
		return
	}
	if *slot != nil {
		return
	}
	v := r.value
	*slot = &v
}

func (b *builder) slot(field string) **string {
	switch field {
	case "title":
		return &b.o.Title
	case "company":
		return &b.o.Company
	case "location":
		return &b.o.Location
	case "category":
		return &b.o.Category
	case "position":
		return &b.o.Position
	case "date_add":
		return &b.o.DateAdd
	case "experience":
		return &b.o.Experience
	case "employment":
		return &b.o.Employment
	case "operating_mode":
		return &b.o.OperatingMode
	default:
		return nil
	}
}

func simpleText(root *goquery.Selection, field string, in selector.Instruction) fieldResult[string] {
	el := find(root, in.Locator).First()
	if el.Length() == 0 {
		return failResult[string](&FieldLookupError{Field: field, Locator: in.Locator})
	}
	if field == "title" {
		el = el.Find("h1").First()
		if el.Length() == 0 {
			return failResult[string](&FieldLookupError{Field: field, Locator: selector.Locator{Tag: "h1"}, What: "inner heading"})
		}
	}
	v, err := normalizeField(field, cleanText(el.Text()))
	if err != nil {
		return failResult[string](err)
	}
	return okResult(v)
}

// embeddedDate reads the posting date from a JSON-LD script. Several scripts
// of the same type may exist; the first one carrying the key wins.
func embeddedDate(root *goquery.Selection, field string, in selector.Instruction) fieldResult[string] {
	scripts := find(root, in.Locator).FilterFunction(func(_ int, s *goquery.Selection) bool {
		t, _ := s.Attr("type")
		return strings.EqualFold(strings.TrimSpace(t), in.Type)
	})
	if scripts.Length() == 0 {
		return failResult[string](&FieldLookupError{Field: field, Locator: selector.Locator{Tag: in.Locator.Tag, Class: in.Type}, What: "embedded script"})
	}

	var decodeErr error
	var raw string
	found := false
	scripts.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		text := stripControl(strings.TrimSpace(s.Text()))
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			decodeErr = &FormatError{Field: field, Text: abbreviate(text), Err: err}
			return true
		}
		if v, ok := findJSONString(payload, in.Key); ok {
			raw, found = v, true
			return false
		}
		return true
	})

	if !found {
		if decodeErr != nil {
			return failResult[string](decodeErr)
		}
		return failResult[string](&FieldLookupError{Field: field, Locator: in.Locator, What: "json key " + in.Key})
	}

	ts, err := offer.CanonicalTimestamp(raw)
	if err != nil {
		return failResult[string](&FormatError{Field: field, Text: raw, Err: err})
	}
	return okResult(ts)
}

// findJSONString searches objects and arrays depth-first for key.
func findJSONString(v any, key string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[key].(string); ok {
			return s, true
		}
		for _, child := range t {
			if s, ok := findJSONString(child, key); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range t {
			if s, ok := findJSONString(child, key); ok {
				return s, true
			}
		}
	}
	return "", false
}

func salaryBlocks(root *goquery.Selection, field string, in selector.Instruction) fieldResult[offer.Salary] {
	blocks := find(root, in.Locator)
	if blocks.Length() == 0 {
		return failResult[offer.Salary](&FieldLookupError{Field: field, Locator: in.Locator})
	}

	out := offer.Salary{}
	var err error
	blocks.EachWithBreak(func(_ int, blk *goquery.Selection) bool {
		amount := find(blk, in.Salary).First()
		if amount.Length() == 0 {
			err = &FieldLookupError{Field: field, Locator: in.Salary, What: "salary amount"}
			return false
		}
		contract := find(blk, in.Contract).First()
		if contract.Length() == 0 {
			err = &FieldLookupError{Field: field, Locator: in.Contract, What: "contract type"}
			return false
		}

		from, to, currency, perr := parseSalaryText(field, cleanText(amount.Text()))
		if perr != nil {
			err = perr
			return false
		}
		kind, perr := parseContract(field, contract.Text())
		if perr != nil {
			err = perr
			return false
		}
		out[kind] = offer.SalaryRange{From: &from, To: &to, Currency: currency}
		return true
	})
	if err != nil {
		return failResult[offer.Salary](err)
	}
	return okResult(out)
}

// detailTargets routes detail labels to offer fields.
var detailTargets = map[string]string{
	"Experience":      "experience",
	"Employment Type": "employment",
	"Operating mode":  "operating_mode",
}

type detailResult struct {
	field  string
	result fieldResult[string]
}

func detailRows(root *goquery.Selection, field string, in selector.Instruction) ([]detailResult, error) {
	rows := find(root, in.Locator)
	if rows.Length() == 0 {
		return nil, &FieldLookupError{Field: field, Locator: in.Locator}
	}

	var out []detailResult
	rows.Each(func(_ int, row *goquery.Selection) {
		label, scope := row, row.Parent()
		if !in.Label.IsZero() {
			label, scope = find(row, in.Label).First(), row
			if label.Length() == 0 {
				return
			}
		}

		target, ok := detailTargets[cleanText(label.Text())]
		if !ok {
			return
		}

		value := find(scope, in.Value).First()
		if value.Length() == 0 {
			out = append(out, detailResult{
				field:  target,
				result: failResult[string](&FieldLookupError{Field: target, Locator: in.Value, What: "detail value"}),
			})
			return
		}
		out = append(out, detailResult{field: target, result: okResult(foldCase(cleanText(value.Text())))})
	})
	return out, nil
}

func technologyRows(root *goquery.Selection, field string, in selector.Instruction) fieldResult[offer.TechStack] {
	rows := find(root, in.Locator)
	if rows.Length() == 0 {
		return failResult[offer.TechStack](&FieldLookupError{Field: field, Locator: in.Locator})
	}

	out := offer.TechStack{}
	var err error
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		tech := find(row, in.Technology).First()
		if tech.Length() == 0 {
			err = &FieldLookupError{Field: field, Locator: in.Technology, What: "technology name"}
			return false
		}
		level := find(row, in.Level).First()
		if level.Length() == 0 {
			err = &FieldLookupError{Field: field, Locator: in.Level, What: "technology level"}
			return false
		}
		name := cleanText(tech.Text())
		if name == "" {
			return true
		}
		out[name] = techLevel(level.Text())
		return true
	})
	if err != nil {
		return failResult[offer.TechStack](err)
	}
	return okResult(out)
}

// find returns the descendants of root matching l. Every class token in
// l.Class must be present on the element.
func find(root *goquery.Selection, l selector.Locator) *goquery.Selection {
	tag := l.Tag
	if tag == "" {
		tag = "*"
	}
	sel := root.Find(tag)

	classes := strings.Fields(l.Class)
	if len(classes) == 0 {
		return sel
	}
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		for _, c := range classes {
			if !s.HasClass(c) {
				return false
			}
		}
		return true
	})
}

// describe returns the field name and error kind used for logs and metrics.
func describe(err error) (field, kind string) {
	var lookup *FieldLookupError
	var format *FormatError
	var cfg *ConfigError
	switch {
	case errors.As(err, &lookup):
		return lookup.Field, "lookup"
	case errors.As(err, &format):
		return format.Field, "format"
	case errors.As(err, &cfg):
		return "", "config"
	default:
		return "", "unknown"
	}
}

func abbreviate(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
