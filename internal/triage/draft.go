package triage

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BuildDraft assembles the prefilter's ObservationDraft from the decoded
// snippet, before the full extractor has run. Anchor hrefs are resolved
// against the source URL so the same-domain ratio check sees absolute
// hosts. A snippet that fails to parse yields a draft with no outbound
// hosts; the token/keyword checks still apply.
func BuildDraft(sourceURL url.URL, snippet string) ObservationDraft {
	draft := ObservationDraft{
		URL:        sourceURL.String(),
		SourceHost: sourceURL.Host,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		draft.Excerpt = strings.TrimSpace(snippet)
		draft.TokenCount = len(wordToken.FindAllString(strings.ToLower(draft.Excerpt), -1))
		return draft
	}

	text := strings.TrimSpace(doc.Text())
	draft.Excerpt = text
	draft.TokenCount = len(wordToken.FindAllString(strings.ToLower(text), -1))

	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, parseErr := url.Parse(strings.TrimSpace(href))
		if parseErr != nil {
			return
		}
		resolved := sourceURL.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if resolved.Host == "" {
			return
		}
		// Dedupe per link target; the same-domain ratio counts links,
		// not distinct hosts.
		if _, dup := seen[resolved.String()]; dup {
			return
		}
		seen[resolved.String()] = struct{}{}
		draft.OutboundHosts = append(draft.OutboundHosts, resolved.Host)
	})

	return draft
}
