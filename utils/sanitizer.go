package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// PreviewLength is the number of runes kept in a thread preview
const PreviewLength = 120

// UGCPolicy for rich text content
var UGCPolicy *bluemonday.Policy

func init() {
	UGCPolicy = bluemonday.UGCPolicy()

	// Allow additional safe elements for chat and mail bodies
	UGCPolicy.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	UGCPolicy.AllowElements("strong", "em", "u", "s", "code", "pre")
	UGCPolicy.AllowElements("ul", "ol", "li")
	UGCPolicy.AllowElements("blockquote")
	UGCPolicy.AllowElements("a", "img")
	UGCPolicy.AllowElements("table", "thead", "tbody", "tr", "th", "td")

	UGCPolicy.AllowAttrs("href").OnElements("a")
	UGCPolicy.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	UGCPolicy.AllowAttrs("style").OnElements("span", "div", "p")

	UGCPolicy.RequireParseableURLs(true)
	UGCPolicy.AllowURLSchemes("http", "https", "mailto")
}

// SanitizeHTML sanitizes HTML content using the UGC policy
func SanitizeHTML(s string) string {
	return UGCPolicy.Sanitize(s)
}

// PlainText extracts the readable text of an HTML fragment, collapsing
// whitespace. Script and style contents are dropped.
func PlainText(fragment string) string {
	if fragment == "" {
		return ""
	}

	// A strings.Reader never fails, so neither does Parse
	doc, _ := html.Parse(strings.NewReader(fragment))

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && (n.Data == "br" || n.Data == "p" || n.Data == "div") {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(b.String()), " ")
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Preview derives the list preview for a message body. Text wins over html;
// an empty result means the message has nothing to show.
func Preview(text, htmlBody string) string {
	if text != "" {
		return Truncate(text, PreviewLength)
	}
	return Truncate(PlainText(htmlBody), PreviewLength)
}
