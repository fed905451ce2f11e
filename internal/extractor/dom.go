package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/pkg/failure"
	"golang.org/x/net/html"
)

/*
Responsibilities
- Parse response bytes into a DOM tree
- Reject inputs that are not HTML at all (XML feeds, plain text)
- Produce a cleaned body copy for text/token extraction

There is no content-container hunt here. The pages this crawler wants
are hand-rolled: marquee banners, guestbook links, and table-layout
chrome ARE the content, and stripping them the way a boilerplate
extractor would will destroy exactly the signal the scorer needs. The
only thing removed is text that was never rendered as prose: scripts,
styles, and templates.
*/

// noiseTags are elements whose text content never renders as prose.
var noiseTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// knownBodyTags is the markup vocabulary used to decide whether parsed
// input was really HTML. html.Parse synthesizes html/head/body around
// anything, so their presence in the tree proves nothing; seeing at
// least one of these (or an explicit html/body/doctype in the raw
// bytes) does. The retro-era tags are listed deliberately: a frameset
// page with no prose at all is still very much HTML to this crawler.
var knownBodyTags = map[string]bool{
	"a": true, "p": true, "div": true, "span": true, "br": true,
	"img": true, "table": true, "tr": true, "td": true, "ul": true,
	"ol": true, "li": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "pre": true, "b": true,
	"i": true, "em": true, "strong": true, "hr": true, "form": true,
	"marquee": true, "blink": true, "font": true, "center": true,
	"frameset": true, "frame": true,
}

type DomExtractor struct {
	metadataSink metadata.MetadataSink
	params       ExtractParam
}

func NewDomExtractor(metadataSink metadata.MetadataSink) DomExtractor {
	return DomExtractor{
		metadataSink: metadataSink,
		params:       DefaultExtractParam(),
	}
}

// NewDomExtractorWithParams allows callers to override the excerpt and
// anchor caps, e.g. from loaded configuration.
func NewDomExtractorWithParams(metadataSink metadata.MetadataSink, params ExtractParam) DomExtractor {
	return DomExtractor{
		metadataSink: metadataSink,
		params:       params,
	}
}

func (d *DomExtractor) Extract(
	sourceUrl url.URL,
	htmlByte []byte,
) (ExtractionResult, failure.ClassifiedError) {
	result, err := d.extract(htmlByte)
	if err != nil {
		var extractionError *ExtractionError
		errors.As(err, &extractionError)
		d.metadataSink.RecordError(
			time.Now(),
			"extractor",
			"DomExtractor.Extract",
			mapExtractionErrorToMetadataCause(extractionError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fmt.Sprintf("%v", sourceUrl)),
			},
		)
		return ExtractionResult{}, extractionError
	}
	return result, nil
}

func (d *DomExtractor) extract(htmlByte []byte) (ExtractionResult, error) {
	doc, err := html.Parse(bytes.NewReader(htmlByte))
	if err != nil {
		return ExtractionResult{}, &ExtractionError{
			Message:   fmt.Sprintf("failed to parse HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
	}

	if !looksLikeHTML(doc, htmlByte) {
		return ExtractionResult{}, &ExtractionError{
			Message:   "input is not an HTML document",
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
	}

	content := cleanedBody(doc)

	return ExtractionResult{
		DocumentRoot: doc,
		ContentNode:  content,
	}, nil
}

// looksLikeHTML reports whether the parsed tree carries real HTML
// markup, as opposed to plain text or an XML document that html.Parse
// wrapped in a synthesized skeleton.
func looksLikeHTML(doc *html.Node, raw []byte) bool {
	lower := strings.ToLower(string(raw))
	if strings.Contains(lower, "<!doctype html") ||
		strings.Contains(lower, "<html") ||
		strings.Contains(lower, "<body") {
		return true
	}

	found := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && knownBodyTags[n.Data] {
			found = true
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

// cleanedBody returns a detached copy of the document's body with noise
// elements removed, leaving every rendered word (marquee banners and
// table chrome included) in place. A body-less document (a pure
// frameset page) yields an empty placeholder node; its retro signals
// still come off the DocumentRoot.
func cleanedBody(doc *html.Node) *html.Node {
	body := findElement(doc, "body")
	if body == nil {
		return &html.Node{Type: html.ElementNode, Data: "body"}
	}
	clone := cloneSubtree(body)
	stripNoise(clone)
	return clone
}

func findElement(root *html.Node, tag string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && root.Data == tag {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// cloneSubtree deep-copies node and its children, leaving the original
// document untouched for title/link/retro extraction.
func cloneSubtree(node *html.Node) *html.Node {
	clone := &html.Node{
		Type:      node.Type,
		DataAtom:  node.DataAtom,
		Data:      node.Data,
		Namespace: node.Namespace,
		Attr:      append([]html.Attribute(nil), node.Attr...),
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		child := cloneSubtree(c)
		clone.AppendChild(child)
	}
	return clone
}

// stripNoise removes noise elements and comments in place.
func stripNoise(node *html.Node) {
	var next *html.Node
	for c := node.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode ||
			(c.Type == html.ElementNode && noiseTags[c.Data]) {
			node.RemoveChild(c)
			continue
		}
		stripNoise(c)
	}
}
