package triage

import (
	"math"
	"strings"
)

// ObservationDraft is the minimal slice of an in-progress Observation the
// embedding prefilter gates on, before the full extractor runs.
type ObservationDraft struct {
	URL           string
	SourceHost    string
	Excerpt       string
	TokenCount    int
	OutboundHosts []string
}

// PrefilterResult is the prefilter's verdict plus diagnostic scores.
type PrefilterResult struct {
	Skip             bool
	Reasons          []string
	OddSimilarity    float64
	BoringSimilarity float64
}

// Embedder produces a dense vector for a piece of text. No embedding
// backend ships with the crawler: PrefilterSettings.Embedder stays nil
// by default and the embedding check is skipped entirely.
type Embedder interface {
	Embed(text string) ([]float64, error)
}

// PrefilterSettings configures the heuristic and optional embedding checks.
type PrefilterSettings struct {
	MinTokenCount          int
	SameDomainRatioThresh  float64
	BoringKeywords         []string
	Embedder               Embedder
	OddCentroids           [][]float64
	BoringCentroids        [][]float64
	OddSimilarityThresh    float64
	BoringSimilarityThresh float64
	MinExcerptLenForEmbed  int
}

func DefaultPrefilterSettings() PrefilterSettings {
	return PrefilterSettings{
		MinTokenCount:         15,
		SameDomainRatioThresh: 0.9,
		BoringKeywords: []string{
			"insurance", "mortgage", "real estate", "press release",
			"terms and conditions", "privacy policy",
		},
		OddSimilarityThresh:    0.75,
		BoringSimilarityThresh: 0.75,
		MinExcerptLenForEmbed:  20,
	}
}

// Prefilter is the cascade's last, most context-aware gate.
type Prefilter interface {
	Evaluate(draft ObservationDraft) PrefilterResult
}

// HeuristicPrefilter implements the default, dependency-free prefilter:
// cheap heuristic checks always run; the embedding check only runs when an
// Embedder is configured.
type HeuristicPrefilter struct {
	settings PrefilterSettings
}

func NewHeuristicPrefilter(settings PrefilterSettings) *HeuristicPrefilter {
	return &HeuristicPrefilter{settings: settings}
}

func (p *HeuristicPrefilter) Evaluate(draft ObservationDraft) PrefilterResult {
	var reasons []string
	skip := false

	if draft.TokenCount < p.settings.MinTokenCount {
		reasons = append(reasons, "token_count below minimum")
		skip = true
	}

	lowerExcerpt := strings.ToLower(draft.Excerpt)
	for _, kw := range p.settings.BoringKeywords {
		if strings.Contains(lowerExcerpt, kw) {
			reasons = append(reasons, "boring_keyword:"+kw)
			skip = true
			break
		}
	}

	if len(draft.OutboundHosts) > 0 {
		sameDomain := 0
		for _, h := range draft.OutboundHosts {
			if h == draft.SourceHost {
				sameDomain++
			}
		}
		ratio := float64(sameDomain) / float64(len(draft.OutboundHosts))
		if ratio >= p.settings.SameDomainRatioThresh {
			reasons = append(reasons, "same_domain_outbound_ratio")
			skip = true
		}
	}

	result := PrefilterResult{Skip: skip, Reasons: reasons}

	if p.settings.Embedder == nil || len(draft.Excerpt) < p.settings.MinExcerptLenForEmbed {
		return result
	}

	vec, err := p.settings.Embedder.Embed(draft.Excerpt)
	if err != nil {
		return result
	}

	result.OddSimilarity = maxCosineSimilarity(vec, p.settings.OddCentroids)
	result.BoringSimilarity = maxCosineSimilarity(vec, p.settings.BoringCentroids)

	if result.OddSimilarity >= p.settings.OddSimilarityThresh {
		// Overrides all prior heuristic reasons and keeps the page.
		return PrefilterResult{
			Skip:             false,
			Reasons:          nil,
			OddSimilarity:    result.OddSimilarity,
			BoringSimilarity: result.BoringSimilarity,
		}
	}
	if result.BoringSimilarity >= p.settings.BoringSimilarityThresh {
		result.Skip = true
		result.Reasons = append(result.Reasons, "boring_embedding")
	}
	return result
}

func maxCosineSimilarity(v []float64, centroids [][]float64) float64 {
	best := 0.0
	for _, c := range centroids {
		if sim := cosineSimilarity(v, c); sim > best {
			best = sim
		}
	}
	return best
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
