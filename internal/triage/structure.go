package triage

import (
	"strings"

	"golang.org/x/net/html"
)

// RetroTags are the elements whose presence is a strong signal of
// hand-built, retro-era markup (see the extractor's retro-HTML feature).
var RetroTags = map[string]bool{
	"marquee":  true,
	"blink":    true,
	"font":     true,
	"center":   true,
	"frameset": true,
}

// OddKeywords are lower-cased substrings whose presence in the snippet is a
// weak positive signal for the crawler's target population, distinct from
// the boring-keyword denylist.
var OddKeywords = []string{
	"webring", "guestbook", "under construction", "best viewed in",
	"geocities", "neocities", "ascii art", "hit counter",
}

// ComputeStructureMetrics performs a single cheap tokenizer pass over the
// decoded snippet, counting tags and text bytes without building a DOM tree.
func ComputeStructureMetrics(snippet string) StructureMetrics {
	z := html.NewTokenizer(strings.NewReader(snippet))

	var (
		totalTags   int
		anchorTags  int
		scriptTags  int
		retroCount  int
		textBytes   int
		totalBytes  int
		tokenCount  int
	)

	lowerSnippet := strings.ToLower(snippet)

loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			totalTags++
			switch tag {
			case "a":
				anchorTags++
			case "script":
				scriptTags++
			}
			if RetroTags[tag] {
				retroCount++
			}
		case html.TextToken:
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			textBytes += len(text)
			tokenCount += len(wordToken.FindAllString(text, -1))
		}
	}
	totalBytes = len(snippet)

	var scriptRatio, anchorRatio float64
	if totalTags > 0 {
		scriptRatio = float64(scriptTags) / float64(totalTags)
		anchorRatio = float64(anchorTags) / float64(totalTags)
	}

	var textDensity float64
	if totalBytes > 0 {
		textDensity = float64(textBytes) / float64(totalBytes)
	}

	retroScore := float64(retroCount) / 3.0
	if retroScore > 1.0 {
		retroScore = 1.0
	}

	oddKeyword := false
	for _, kw := range OddKeywords {
		if strings.Contains(lowerSnippet, kw) {
			oddKeyword = true
			break
		}
	}

	return StructureMetrics{
		Tokens:      tokenCount,
		ScriptRatio: scriptRatio,
		AnchorRatio: anchorRatio,
		TextDensity: textDensity,
		RetroScore:  retroScore,
		OddKeyword:  oddKeyword,
	}
}
