package enrichment

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/darkswarm/api/schemas"
	"github.com/xkilldash9x/darkswarm/internal/discovery"
)

const (
	DefaultPsbdmpURL    = "https://psbdmp.ws/api/v3/search"
	DefaultPastebinURL  = "https://pastebin.com"
	DefaultRentryURL    = "https://rentry.co"
	DefaultControlCURL  = "https://controlc.com"
	DefaultJustPasteURL = "https://justpaste.it"

	DefaultMaxPastes = 10
	// DefaultMinPasteLength drops stubs and deleted-paste notices.
	DefaultMinPasteLength = 50

	rentrySlugs = 5
)

// PasteConfig bounds what one site contributes per query.
type PasteConfig struct {
	MaxPerSite int
	MinLength  int
}

func (c PasteConfig) withDefaults() PasteConfig {
	if c.MaxPerSite <= 0 {
		c.MaxPerSite = DefaultMaxPastes
	}
	if c.MinLength <= 0 {
		c.MinLength = DefaultMinPasteLength
	}
	return c
}

// PasteSites returns a searcher for every supported site.
func PasteSites(cfg PasteConfig, retriever schemas.Retriever, logger *zap.Logger) []schemas.PasteSearcher {
	return []schemas.PasteSearcher{
		NewPsbdmp(DefaultPsbdmpURL, DefaultPastebinURL, cfg, retriever),
		NewRentry(DefaultRentryURL, cfg, retriever, logger),
		NewControlC(DefaultControlCURL, cfg, retriever, logger),
		NewJustPaste(DefaultJustPasteURL, cfg, retriever, logger),
	}
}

// -- Pastebin via psbdmp --

// Psbdmp searches the Pastebin dumps indexed by psbdmp.ws.
type Psbdmp struct {
	searchURL   string
	pastebinURL string
	cfg         PasteConfig
	retriever   schemas.Retriever
}

var _ schemas.PasteSearcher = (*Psbdmp)(nil)

type psbdmpResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Time    string `json:"time"`
		Author  string `json:"author"`
	} `json:"data"`
}

func NewPsbdmp(searchURL, pastebinURL string, cfg PasteConfig, retriever schemas.Retriever) *Psbdmp {
	return &Psbdmp{
		searchURL:   strings.TrimSuffix(searchURL, "/"),
		pastebinURL: strings.TrimSuffix(pastebinURL, "/"),
		cfg:         cfg.withDefaults(),
		retriever:   retriever,
	}
}

func (p *Psbdmp) Name() string { return "pastebin" }

func (p *Psbdmp) Search(ctx context.Context, query string) ([]schemas.PasteContent, error) {
	doc, err := p.retriever.Fetch(ctx, p.searchURL+"/"+url.PathEscape(query))
	if err != nil {
		return nil, fmt.Errorf("psbdmp: %w", err)
	}
	var parsed psbdmpResponse
	if err := json.Unmarshal(doc.Body, &parsed); err != nil {
		return nil, fmt.Errorf("psbdmp: failed to decode response: %w", err)
	}

	var out []schemas.PasteContent
	for _, d := range parsed.Data {
		if len(out) == p.cfg.MaxPerSite {
			break
		}
		content := strings.TrimSpace(d.Content)
		if content == "" {
			raw, err := p.retriever.Fetch(ctx, p.pastebinURL+"/raw/"+url.PathEscape(d.ID))
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			content = pasteText(raw)
		}
		if len(content) < p.cfg.MinLength {
			continue
		}
		out = append(out, schemas.PasteContent{
			URL:       p.pastebinURL + "/" + d.ID,
			Site:      p.Name(),
			Title:     d.Title,
			Content:   content,
			CreatedAt: d.Time,
			Author:    d.Author,
		})
	}
	return out, nil
}

// -- Rentry --

// Rentry has no search, so it guesses slugs built from the query words.
type Rentry struct {
	baseURL   string
	cfg       PasteConfig
	retriever schemas.Retriever
	logger    *zap.Logger
}

var _ schemas.PasteSearcher = (*Rentry)(nil)

func NewRentry(baseURL string, cfg PasteConfig, retriever schemas.Retriever, logger *zap.Logger) *Rentry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rentry{baseURL: strings.TrimSuffix(baseURL, "/"), cfg: cfg.withDefaults(), retriever: retriever, logger: logger.Named("rentry")}
}

func (r *Rentry) Name() string { return "rentry" }

func (r *Rentry) Search(ctx context.Context, query string) ([]schemas.PasteContent, error) {
	var out []schemas.PasteContent
	for _, slug := range SearchSlugs(query, rentrySlugs) {
		address := r.baseURL + "/" + url.PathEscape(slug)
		doc, err := r.retriever.Fetch(ctx, address)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("No paste at slug.", zap.String("slug", slug), zap.Error(err))
			continue
		}
		content := classText(doc.Body, "markdown-body")
		if len(content) < r.cfg.MinLength {
			continue
		}
		out = append(out, schemas.PasteContent{URL: address, Site: r.Name(), Content: content})
		if len(out) == r.cfg.MaxPerSite {
			break
		}
	}
	return out, nil
}

// SearchSlugs derives candidate paste slugs from a query: each word, then the
// first two words joined by a dash and by an underscore.
func SearchSlugs(query string, limit int) []string {
	words := strings.Fields(strings.ToLower(query))
	slugs := make([]string, 0, len(words)+2)
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			slugs = append(slugs, s)
		}
	}
	for _, w := range words {
		add(w)
	}
	if len(words) >= 2 {
		add(words[0] + "-" + words[1])
		add(words[0] + "_" + words[1])
	}
	if limit > 0 && len(slugs) > limit {
		slugs = slugs[:limit]
	}
	return slugs
}

// -- Sites with a result page --

// linkSite scrapes a search result page and fetches every linked paste.
type linkSite struct {
	name      string
	baseURL   string
	match     func(*html.Node) bool
	rawURL    func(pasteURL string) string
	cfg       PasteConfig
	retriever schemas.Retriever
	logger    *zap.Logger
}

var _ schemas.PasteSearcher = (*linkSite)(nil)

// NewControlC searches controlc.com.
func NewControlC(baseURL string, cfg PasteConfig, retriever schemas.Retriever, logger *zap.Logger) schemas.PasteSearcher {
	return newLinkSite("controlc", baseURL, cfg, retriever, logger,
		func(n *html.Node) bool { return hasClass(n, "paste-link") },
		func(u string) string { return strings.TrimSuffix(u, "/") + "/raw" })
}

// NewJustPaste searches justpaste.it.
func NewJustPaste(baseURL string, cfg PasteConfig, retriever schemas.Retriever, logger *zap.Logger) schemas.PasteSearcher {
	return newLinkSite("justpaste", baseURL, cfg, retriever, logger,
		func(n *html.Node) bool {
			for p := n.Parent; p != nil; p = p.Parent {
				if hasClass(p, "result-item") {
					return true
				}
			}
			return false
		},
		func(u string) string { return u })
}

func newLinkSite(name, baseURL string, cfg PasteConfig, retriever schemas.Retriever, logger *zap.Logger,
	match func(*html.Node) bool, rawURL func(string) string) *linkSite {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &linkSite{
		name:      name,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		match:     match,
		rawURL:    rawURL,
		cfg:       cfg.withDefaults(),
		retriever: retriever,
		logger:    logger.Named(name),
	}
}

func (s *linkSite) Name() string { return s.name }

func (s *linkSite) Search(ctx context.Context, query string) ([]schemas.PasteContent, error) {
	doc, err := s.retriever.Fetch(ctx, s.baseURL+"/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}

	var out []schemas.PasteContent
	for _, link := range s.links(doc.Body) {
		if len(out) == s.cfg.MaxPerSite {
			break
		}
		raw, err := s.retriever.Fetch(ctx, s.rawURL(link.URL))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Debug("Failed to fetch paste.", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		content := pasteText(raw)
		if len(content) < s.cfg.MinLength {
			continue
		}
		out = append(out, schemas.PasteContent{URL: link.URL, Site: s.name, Title: link.Title, Content: content})
	}
	return out, nil
}

func (s *linkSite) links(body []byte) []discovery.Link {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []discovery.Link
	for n := range root.Descendants() {
		if n.Type != html.ElementNode || n.DataAtom != atom.A || !s.match(n) {
			continue
		}
		href := htmlAttr(n, "href")
		if href == "" {
			continue
		}
		if !strings.HasPrefix(href, "http") {
			href = s.baseURL + "/" + strings.TrimPrefix(href, "/")
		}
		if seen[href] {
			continue
		}
		seen[href] = true
		links = append(links, discovery.Link{URL: href, Title: strings.Join(strings.Fields(nodeText(n)), " ")})
	}
	return links
}

// -- HTML helpers --

// pasteText returns a paste body as text, stripping markup from HTML pages.
func pasteText(doc *schemas.Document) string {
	if strings.Contains(doc.ContentType, "html") {
		return discovery.ExtractPage(doc.Body).Text
	}
	return strings.TrimSpace(string(doc.Body))
}

// classText joins the text of the first element carrying class.
func classText(body []byte, class string) string {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	for n := range root.Descendants() {
		if hasClass(n, class) {
			return strings.Join(strings.Fields(nodeText(n)), " ")
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(htmlAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func htmlAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			sb.WriteString(d.Data)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
