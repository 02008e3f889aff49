// internal/discovery/parse.go
package discovery

import (
	"bytes"
	stdhtml "html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/xkilldash9x/darkswarm/api/schemas"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is one result scraped from a search engine page.
type Link struct {
	URL   string
	Title string
}

// Page is the readable content of a fetched document.
type Page struct {
	Title string
	Text  string
}

var (
	onionHref  = regexp.MustCompile(`(?i)https?://[a-z0-9.]+\.onion[^\s"'<>]*`)
	whitespace = regexp.MustCompile(`\s+`)
	textPolicy = newTextPolicy()
)

// newTextPolicy drops every tag and keeps text, separating the text of
// adjacent elements.
func newTextPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

// minTitleLen drops icon links and pagination.
const minTitleLen = 3

// ParseResults pulls onion links out of a search result page. Links back to
// the engine itself and search or query pages are skipped, and results are
// de-duplicated by normalized URL in page order.
func ParseResults(body []byte, engineHost string) []Link {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []Link
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.DataAtom != atom.A {
			continue
		}
		href := attr(n, "href")
		match := onionHref.FindString(href)
		lower := strings.ToLower(match)
		if match == "" || strings.Contains(lower, "search") || strings.Contains(lower, "query") {
			continue
		}
		if engineHost != "" {
			if u, err := url.Parse(match); err == nil && strings.EqualFold(u.Hostname(), engineHost) {
				continue
			}
		}
		title := collapse(textContent(n))
		if len(title) < minTitleLen {
			continue
		}
		key := schemas.NormalizeURL(match)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		links = append(links, Link{URL: match, Title: title})
	}
	return links
}

// ExtractPage returns the title and visible text of an HTML document.
// Script and style content never reaches the text.
func ExtractPage(body []byte) Page {
	var page Page
	doc, err := html.Parse(bytes.NewReader(body))
	if err == nil {
		for n := range doc.Descendants() {
			if n.Type == html.ElementNode && n.DataAtom == atom.Title {
				page.Title = collapse(textContent(n))
				break
			}
		}
		stripNodes(doc, atom.Script, atom.Style, atom.Noscript, atom.Head)
		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err == nil {
			body = buf.Bytes()
		}
	}
	// The sanitizer guarantees no markup survives even when parsing fails.
	text := textPolicy.SanitizeBytes(body)
	page.Text = collapse(stdhtml.UnescapeString(string(text)))
	return page
}

// Truncate cuts s to at most n bytes on a rune boundary.
func Truncate(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func stripNodes(root *html.Node, atoms ...atom.Atom) {
	var doomed []*html.Node
	for n := range root.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}
		for _, a := range atoms {
			if n.DataAtom == a {
				doomed = append(doomed, n)
				break
			}
		}
	}
	for _, n := range doomed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			sb.WriteString(d.Data)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
