package extract

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// compile parses a comma-separated selector group. An empty or invalid
// group yields nil, which matches nothing.
func compile(s string) cascadia.Matcher {
	g, err := cascadia.ParseGroup(s)
	if err != nil || len(g) == 0 {
		return nil
	}
	return g
}

// querySelector returns the first element under root (root excluded), in
// document order, matching m.
func querySelector(root *html.Node, m cascadia.Matcher) *html.Node {
	if root == nil || m == nil {
		return nil
	}
	return cascadia.Query(root, m)
}

// closest returns n or its nearest ancestor matching m.
func closest(n *html.Node, m cascadia.Matcher) *html.Node {
	if m == nil {
		return nil
	}
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && m.Match(n) {
			return n
		}
	}
	return nil
}

// eachElement calls fn for every element under root in document order and
// stops when fn returns true.
func eachElement(root *html.Node, fn func(*html.Node) bool) {
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && fn(c) {
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
}

// textContent concatenates the rendered text below n. Script and style
// bodies are skipped because the browser never renders them.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
