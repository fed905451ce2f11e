package extractor

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/arlowright/oddcrawl/pkg/urlutil"
	"golang.org/x/net/html"
)

var wordTokenRe = regexp.MustCompile(`\w+`)

// retroTagOrder mirrors the cascade's RetroTags set but preserves a stable
// report order for the signals list.
var retroTagOrder = []string{"marquee", "blink", "font", "center", "frameset"}

// BuildObservation walks an ExtractionResult's content node and the full
// document (for <base href> resolution) to produce the extractor's output,
// fetchedAt stamps every outbound link's found_at.
func BuildObservation(result ExtractionResult, sourceURL url.URL, fetchedAt time.Time, params ExtractParam) Extract {
	title := extractTitle(result.DocumentRoot)
	text := nodeText(result.ContentNode)
	tokens := len(wordTokenRe.FindAllString(text, -1))

	excerpt := truncateRunes(text, params.MaxExcerptChars)

	retro := computeRetroSignals(result.DocumentRoot)
	urlFlags := computeURLFlags(sourceURL)
	semantic := SemanticFeature{Score: capScore(float64(tokens) / 800.0)}

	base := resolveBase(result.DocumentRoot, sourceURL)
	links, webringHits := extractOutboundLinks(result.DocumentRoot, base, fetchedAt, params.MaxAnchorChars)

	return Extract{
		Title:         title,
		TextExcerpt:   excerpt,
		TokenCount:    tokens,
		RetroHTML:     retro,
		URLWeird:      urlFlags,
		Semantic:      semantic,
		OutboundLinks: links,
		WebringHits:   webringHits,
	}
}

func extractTitle(doc *html.Node) string {
	if doc == nil {
		return ""
	}
	gq := goquery.NewDocumentFromNode(doc)
	title := strings.TrimSpace(gq.Find("title").First().Text())
	return title
}

func nodeText(node *html.Node) string {
	if node == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	var sb strings.Builder
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				sb.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		sb.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(sb.String())
}

// computeRetroSignals counts retro-era tags across the whole document
// (not just the content node, since site chrome itself may carry them),
// normalized by 3.
func computeRetroSignals(doc *html.Node) RetroSignals {
	if doc == nil {
		return RetroSignals{}
	}
	found := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, tag := range retroTagOrder {
				if n.Data == tag {
					found[tag] = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var signals []string
	for _, tag := range retroTagOrder {
		if found[tag] {
			signals = append(signals, tag)
		}
	}
	score := capScore(float64(len(signals)) / 3.0)
	return RetroSignals{Signals: signals, Score: score}
}

// computeURLFlags derives the url_weird feature bucket from the canonical
// source URL: cgi-bin path segment, ~user home directory convention, and
// plain (non-TLS) http.
func computeURLFlags(sourceURL url.URL) URLFlags {
	lowerPath := strings.ToLower(sourceURL.Path)
	flags := URLFlags{
		CGIBin:    strings.Contains(lowerPath, "/cgi-bin/"),
		TildeHome: strings.Contains(sourceURL.Path, "/~"),
		Insecure:  strings.EqualFold(sourceURL.Scheme, "http"),
	}
	// Any single flag is already a strong signal; the score is binary.
	if flags.CGIBin || flags.TildeHome || flags.Insecure {
		flags.Score = 1.0
	}
	return flags
}

// truncateRunes caps s at max runes so a multi-byte character is never
// split mid-sequence.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func capScore(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0 {
		return 0
	}
	return v
}

// resolveBase finds an explicit <base href> if present, else falls back to
// the source URL itself.
func resolveBase(doc *html.Node, sourceURL url.URL) url.URL {
	if doc == nil {
		return sourceURL
	}
	gq := goquery.NewDocumentFromNode(doc)
	if href, ok := gq.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := sourceURL.Parse(href); err == nil {
			return *resolved
		}
	}
	return sourceURL
}

// extractOutboundLinks resolves every <a href> against base, canonicalizes
// it, drops invalid schemes, and dedupes within the page. Anchor text
// is trimmed to maxAnchorChars. webringHits counts anchors whose anchor
// text or resolved URL contains the literal "webring" (case-insensitive).
func extractOutboundLinks(doc *html.Node, base url.URL, fetchedAt time.Time, maxAnchorChars int) ([]OutboundLink, int) {
	if doc == nil {
		return nil, 0
	}
	gq := goquery.NewDocumentFromNode(doc)

	var links []OutboundLink
	seen := map[string]bool{}
	webringHits := 0

	gq.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		canonical, err := urlutil.Canonicalize(*resolved)
		if err != nil {
			return
		}
		key := canonical.String()
		if seen[key] {
			return
		}
		seen[key] = true

		anchorText := truncateRunes(strings.TrimSpace(sel.Text()), maxAnchorChars)

		var rel []string
		if relAttr, ok := sel.Attr("rel"); ok {
			rel = strings.Fields(relAttr)
		}

		isWebring := strings.Contains(strings.ToLower(anchorText), "webring") ||
			strings.Contains(strings.ToLower(key), "webring")
		if isWebring {
			webringHits++
		}

		links = append(links, OutboundLink{
			URL:        key,
			AnchorText: anchorText,
			Rel:        rel,
			FoundAt:    fetchedAt,
		})
	})

	return links, webringHits
}
