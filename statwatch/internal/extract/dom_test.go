package extract

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const domHTML = `<html><body>
<div id="grid" class="cards wide">
  <div class="card"><span class="v">a</span></div>
  <div class="card"><span class="v" title="Итого за месяц">b</span></div>
  <div class="card" data-kind="x"><span class="v">c</span><script>var v = 1;</script></div>
</div>
</body></html>`

func parseDoc(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestQuerySelector(t *testing.T) {
	doc := parseDoc(t, domHTML)
	cases := []struct {
		sel  string
		want string
	}{
		{".card .v", "a"},
		{".card:nth-child(2) .v", "b"},
		{"div.card:nth-child(3) span", "c"},
		{`[data-kind="x"] .v`, "c"},
		{"[data-kind] .v", "c"},
		{`[title*="Итого"]`, "b"},
		{"#grid .card .v", "a"},
		{"div.cards.wide span.v", "a"},
		{".missing, .card:nth-child(3) .v", "c"},
		{"*[title*='месяц']", "b"},
	}
	for _, c := range cases {
		n := querySelector(doc, compile(c.sel))
		if n == nil {
			t.Errorf("%q: no match", c.sel)
			continue
		}
		if got := textContent(n); got != c.want {
			t.Errorf("%q: got %q, want %q", c.sel, got, c.want)
		}
	}
}

func TestQuerySelector_NoMatch(t *testing.T) {
	doc := parseDoc(t, domHTML)
	for _, sel := range []string{".card:nth-child(4) .v", ".nope", "", ":hover", ".card:nth-child(0)"} {
		if n := querySelector(doc, compile(sel)); n != nil {
			t.Errorf("%q: unexpected match <%s>", sel, n.Data)
		}
	}
}

func TestQuerySelector_ExcludesRoot(t *testing.T) {
	doc := parseDoc(t, domHTML)
	card := querySelector(doc, compile(".card"))
	if n := querySelector(card, compile(".card")); n != nil {
		t.Error("querySelector must not return its root")
	}
}

func TestClosest(t *testing.T) {
	doc := parseDoc(t, domHTML)
	v := querySelector(doc, compile(`[data-kind="x"] .v`))
	card := closest(v, compile(".card, .panel"))
	if card == nil || getAttr(card, "data-kind") != "x" {
		t.Fatalf("closest: got %v", card)
	}
	if self := closest(card, compile(".card")); self != card {
		t.Error("closest should include the node itself")
	}
	if n := closest(v, compile(".panel")); n != nil {
		t.Error("closest: unexpected match")
	}
}

func TestTextContent_SkipsScript(t *testing.T) {
	doc := parseDoc(t, domHTML)
	card := querySelector(doc, compile(`[data-kind="x"]`))
	if got := textContent(card); got != "c" {
		t.Errorf("textContent: got %q, want %q", got, "c")
	}
}
