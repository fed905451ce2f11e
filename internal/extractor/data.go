package extractor

import (
	"time"

	"golang.org/x/net/html"
)

// ExtractionResult holds the extraction outcome. DocumentRoot is the
// original parsed HTML document; title, retro signals, and outbound
// links are read from it. ContentNode is a cleaned copy of the body
// (scripts, styles, and other non-content noise removed) that the text
// excerpt and token count are computed over. Odd pages put their
// character everywhere, not inside a tidy article container, so the
// whole body is the content.
type ExtractionResult struct {
	DocumentRoot *html.Node
	ContentNode  *html.Node
}

// ExtractParam caps the observation's excerpt and anchor-text lengths,
// measured in runes.
type ExtractParam struct {
	MaxExcerptChars int
	MaxAnchorChars  int
}

// DefaultExtractParam matches the default excerpts.max_chars storage
// section and the anchor-text cap.
func DefaultExtractParam() ExtractParam {
	return ExtractParam{
		MaxExcerptChars: 4000,
		MaxAnchorChars:  160,
	}
}

// RetroSignals is the html_retro feature bucket: counted retro-era tags,
// normalized by 3, plus which tags were actually found.
type RetroSignals struct {
	Signals []string
	Score   float64
}

// URLFlags is the url_weird feature bucket.
type URLFlags struct {
	CGIBin     bool
	TildeHome  bool
	Insecure   bool
	Score      float64
}

// SemanticFeature is the semantic density feature bucket (tokens/800,
// capped at 1.0). NNDist is left nil; only an optional embedding pass
// populates it.
type SemanticFeature struct {
	Score  float64
	NNDist *float64
}

// OutboundLink is one extracted anchor, resolved and canonicalized.
type OutboundLink struct {
	URL         string
	AnchorText  string
	Rel         []string
	FoundAt     time.Time
}

// Extract is the extractor's output: an Observation draft before graph and
// scoring features are layered in by the run loop.
type Extract struct {
	Title        string
	TextExcerpt  string
	TokenCount   int
	RetroHTML    RetroSignals
	URLWeird     URLFlags
	Semantic     SemanticFeature
	OutboundLinks []OutboundLink
	WebringHits  int
}
