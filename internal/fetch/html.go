package fetch

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

func countImages(doc *html.Node) int {
	n := 0
	walk(doc, func(node *html.Node) {
		if node.Type != html.ElementNode || node.DataAtom != atom.Img {
			return
		}
		for _, a := range node.Attr {
			if a.Key == "src" && strings.TrimSpace(a.Val) != "" {
				n++
				return
			}
		}
	})
	return n
}

func findEmail(doc *html.Node) string {
	// mailto links are the strongest signal.
	var fromLink string
	walk(doc, func(node *html.Node) {
		if fromLink != "" || node.Type != html.ElementNode || node.DataAtom != atom.A {
			return
		}
		for _, a := range node.Attr {
			if a.Key != "href" {
				continue
			}
			href := strings.TrimSpace(a.Val)
			if !strings.HasPrefix(strings.ToLower(href), "mailto:") {
				continue
			}
			addr := strings.TrimPrefix(href, "mailto:")
			addr = strings.TrimPrefix(addr, "Mailto:")
			if idx := strings.IndexByte(addr, '?'); idx >= 0 {
				addr = addr[:idx]
			}
			if emailPattern.MatchString(addr) {
				fromLink = emailPattern.FindString(addr)
				return
			}
		}
	})
	if fromLink != "" {
		return fromLink
	}

	// Fall back to the first e-mail-shaped token in visible text.
	return emailPattern.FindString(visibleText(doc))
}

func visibleWords(doc *html.Node) []string {
	return strings.Fields(visibleText(doc))
}

func visibleText(doc *html.Node) string {
	var b strings.Builder
	collectText(doc, &b)
	return b.String()
}

// collectText gathers text nodes, skipping boilerplate and non-rendered
// subtrees the way a reader would see the page.
func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
			return
		}
	}
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
