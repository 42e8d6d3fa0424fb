// Package extract turns a rendered dashboard page into one metric.Record.
//
// Each field is resolved by an ordered cascade of Locators, the first match
// winning:
//
//	positional → attribute → class → title → fullscan
//
// A field that no locator resolves keeps its default (0 or "N/A"), so
// extraction always yields a complete record regardless of markup drift.
package extract

import (
	"bytes"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hazyhaar/kworkstat/statwatch/internal/metric"
)

// Field names, matching the JSON keys of metric.Record.
const (
	FieldViews       = "views"
	FieldSales       = "sales"
	FieldEarned      = "earned"
	FieldCompetition = "competition"
)

// Kind tells how a located element's text becomes a value.
type Kind int

const (
	Numeric Kind = iota
	Text
)

// Field is one metric and its lookup cascade.
type Field struct {
	Name     string
	Kind     Kind
	Locators []Locator
}

// Labels are the localized captions printed next to each metric.
type Labels struct {
	Views       string
	Sales       string
	Earned      string
	Competition string
	// Lang drives the lower-case variants. Default: Russian.
	Lang language.Tag
}

// RussianLabels are the captions of the kwork seller dashboard.
var RussianLabels = Labels{
	Views:       "Просмотры",
	Sales:       "Продажи",
	Earned:      "Заработано",
	Competition: "Конкуренция",
	Lang:        language.Russian,
}

// Markup conventions known from past dashboard revisions.
const (
	cardSelector        = ".stat-card"
	scanCards           = ".stat-card, .metric-card"
	numericValues       = ".stat-number, .number, .value"
	competitionValues   = ".stat-number, .level, .value"
	positionalValue     = ".stat-number"
	metricAttr          = "data-metric"
	attributeValueChild = ".value"
)

// DefaultFields builds the cascades for views, sales, earned and competition.
func DefaultFields(l Labels) []Field {
	numeric := func(name string, index int, label string, classes ...string) Field {
		variants := labelVariants(l.Lang, label)
		return Field{
			Name: name,
			Kind: Numeric,
			Locators: []Locator{
				Positional(cardSelector, index, positionalValue),
				Attribute(metricAttr, name, attributeValueChild),
				ClassName(classes...),
				TitleText(variants...),
				FullScan(variants, scanCards, numericValues),
			},
		}
	}
	compVariants := labelVariants(l.Lang, l.Competition)
	return []Field{
		numeric(FieldViews, 1, l.Views, ".views-count", ".metric-views .number"),
		numeric(FieldSales, 2, l.Sales, ".sales-count", ".metric-sales .number"),
		numeric(FieldEarned, 3, l.Earned, ".earned-amount", ".metric-earned .number"),
		{
			Name: FieldCompetition,
			Kind: Text,
			Locators: []Locator{
				Positional(cardSelector, 4, positionalValue),
				Attribute(metricAttr, FieldCompetition, attributeValueChild),
				ClassName(".competition-level", ".metric-competition .level"),
				TitleText(compVariants...),
				FullScan(compVariants, scanCards, competitionValues),
			},
		},
	}
}

// labelVariants returns the label followed by its lower-case form when the
// two differ.
func labelVariants(lang language.Tag, label string) []string {
	if label == "" {
		return nil
	}
	if lang == language.Und {
		lang = language.Russian
	}
	lower := cases.Lower(lang).String(label)
	if lower == label {
		return []string{label}
	}
	return []string{label, lower}
}

// Result is the assembled record plus which strategy resolved each field.
type Result struct {
	Record  metric.Record
	Sources map[string]string
}

// Extractor applies field cascades to documents.
type Extractor struct {
	fields []Field
	now    func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFields replaces the default cascades.
func WithFields(fields []Field) Option {
	return func(e *Extractor) { e.fields = fields }
}

// WithClock sets the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New creates an Extractor with the Russian dashboard cascades.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		fields: DefaultFields(RussianLabels),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract resolves every field against doc. It never fails: unresolved
// fields keep their defaults.
func (e *Extractor) Extract(doc *html.Node) Result {
	res := Result{
		Record:  metric.NewRecord(e.now()),
		Sources: make(map[string]string, len(e.fields)),
	}
	for _, f := range e.fields {
		res.Sources[f.Name] = StrategyDefault
		if doc == nil {
			continue
		}
		for _, loc := range f.Locators {
			n, ok := safeLocate(loc, doc)
			if !ok {
				continue
			}
			assign(&res.Record, f, textContent(n))
			res.Sources[f.Name] = loc.Name()
			break
		}
	}
	return res
}

// ExtractHTML parses raw markup and extracts from it.
func (e *Extractor) ExtractHTML(raw []byte) Result {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return e.Extract(nil)
	}
	return e.Extract(doc)
}

// safeLocate runs one locator; a panicking locator counts as a miss.
func safeLocate(loc Locator, doc *html.Node) (n *html.Node, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n, ok = nil, false
		}
	}()
	return loc.Locate(doc)
}

func assign(r *metric.Record, f Field, text string) {
	if f.Kind == Text {
		if f.Name == FieldCompetition {
			r.Competition = ParseLabel(text)
		}
		return
	}
	v := ParseCount(text)
	switch f.Name {
	case FieldViews:
		r.Views = v
	case FieldSales:
		r.Sales = v
	case FieldEarned:
		r.Earned = v
	}
}

// ParseCount keeps only the digits of s: "1 234", "1,234 views" and "1234"
// all give 1234. No digits, or a value beyond int64, gives 0.
func ParseCount(s string) int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return 0
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseLabel trims surrounding whitespace; an empty label becomes "N/A".
func ParseLabel(s string) string {
	s = strings.TrimFunc(s, unicode.IsSpace)
	if s == "" {
		return metric.NoCompetition
	}
	return s
}
