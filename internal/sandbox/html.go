package sandbox

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// suspiciousSignatures are fixed patterns scanned against a page's visible
// text, independent of form discovery. Each match emits one observation.
var suspiciousSignatures = []struct {
	re          *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`password|pwd|passwd`), "Password field detected"},
	{regexp.MustCompile(`credit.?card|card.?number|cvv`), "Credit card field detected"},
	{regexp.MustCompile(`bank.?account|routing`), "Banking information field detected"},
	{regexp.MustCompile(`javascript:|onclick=|onerror=`), "Suspicious JavaScript detected"},
}

// visibleText extracts the rendered text of an HTML document, skipping
// script and style contents. On parse failure the raw body is returned so
// the signature scan still has something to work with.
func visibleText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		// Inline event handlers only appear in attributes, so fold them into
		// the scanned text as well.
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if strings.HasPrefix(strings.ToLower(a.Key), "on") {
					b.WriteString(a.Key + "=" + a.Val + " ")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}
