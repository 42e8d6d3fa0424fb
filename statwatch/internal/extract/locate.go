package extract

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Strategy names, reported in Result.Sources.
const (
	StrategyPositional = "positional"
	StrategyAttribute  = "attribute"
	StrategyClassName  = "class"
	StrategyTitleText  = "title"
	StrategyFullScan   = "fullscan"
	StrategyDefault    = "default"
)

// Locator finds the element holding one field's value. Implementations
// return false when their markup convention is absent from the document.
type Locator interface {
	Name() string
	Locate(doc *html.Node) (*html.Node, bool)
}

// selectorLocator resolves a compiled selector group against the document.
type selectorLocator struct {
	name string
	sel  cascadia.Matcher
}

func (l selectorLocator) Name() string { return l.name }

func (l selectorLocator) Locate(doc *html.Node) (*html.Node, bool) {
	n := querySelector(doc, l.sel)
	return n, n != nil
}

// Positional matches the index-th card of a known card grid and reads the
// value element inside it: ".stat-card:nth-child(2) .stat-number".
func Positional(card string, index int, value string) Locator {
	return selectorLocator{
		name: StrategyPositional,
		sel:  compile(fmt.Sprintf("%s:nth-child(%d) %s", card, index, value)),
	}
}

// Attribute matches an explicit metric-name attribute:
// `[data-metric="views"] .value`.
func Attribute(attr, metric, value string) Locator {
	return selectorLocator{
		name: StrategyAttribute,
		sel:  compile(fmt.Sprintf(`[%s="%s"] %s`, attr, metric, value)),
	}
}

// ClassName matches metric-specific class conventions. The selectors form
// one list, so the first match in document order wins.
func ClassName(selectors ...string) Locator {
	return selectorLocator{
		name: StrategyClassName,
		sel:  compile(strings.Join(selectors, ", ")),
	}
}

// TitleText matches any element whose title attribute contains one of the
// labels.
func TitleText(labels ...string) Locator {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		if l == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf(`[title*="%s"]`, l))
	}
	return selectorLocator{
		name: StrategyTitleText,
		sel:  compile(strings.Join(parts, ", ")),
	}
}

// fullScan walks every element looking for a label in its rendered text,
// climbs to the enclosing card and reads the value element from it.
type fullScan struct {
	labels []string
	cards  cascadia.Matcher
	values cascadia.Matcher
}

// FullScan builds the last-resort locator. cards and values are selector
// groups (".stat-card, .metric-card").
func FullScan(labels []string, cards, values string) Locator {
	var ls []string
	for _, l := range labels {
		if l != "" {
			ls = append(ls, l)
		}
	}
	return fullScan{labels: ls, cards: compile(cards), values: compile(values)}
}

func (fullScan) Name() string { return StrategyFullScan }

func (f fullScan) Locate(doc *html.Node) (*html.Node, bool) {
	if len(f.labels) == 0 {
		return nil, false
	}
	var found *html.Node
	eachElement(doc, func(el *html.Node) bool {
		if !containsAny(textContent(el), f.labels) {
			return false
		}
		card := closest(el, f.cards)
		if card == nil {
			return false
		}
		found = querySelector(card, f.values)
		return found != nil
	})
	return found, found != nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
