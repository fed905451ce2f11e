package runloop

import (
	"encoding/json"
	"time"

	"github.com/arlowright/oddcrawl/internal/extractor"
	"github.com/arlowright/oddcrawl/internal/graph"
	"github.com/arlowright/oddcrawl/internal/triage"
)

// Observation is the persisted per-page record: identity, extract,
// features, links, cascade outcome, and fetch metrics. Serialized (with
// the excerpt capped) as the redacted excerpt artifact.
type Observation struct {
	URL          string             `json:"url"`
	URLCanonical string             `json:"url_canonical"`
	FetchedAt    string             `json:"fetched_at"`
	Status       int                `json:"status"`
	Headers      map[string]string  `json:"headers,omitempty"`
	Hashes       ObservationHashes  `json:"hashes"`
	Extract      ObservationExtract `json:"extract"`
	Features     FeatureBundle      `json:"features"`
	Links        LinksBundle        `json:"links"`
	Cascade      *CascadeRecord     `json:"cascade,omitempty"`
	FetchMetrics FetchMetricsRecord `json:"fetch_metrics"`
}

type ObservationHashes struct {
	URLSHA256     string `json:"url_sha256"`
	ContentSHA256 string `json:"content_sha256"`
}

type ObservationExtract struct {
	Lang        string `json:"lang,omitempty"`
	Title       string `json:"title"`
	TextExcerpt string `json:"text_excerpt"`
	TokenCount  int    `json:"token_count"`
}

type FeatureBundle struct {
	HTMLRetro RetroFeature    `json:"html_retro"`
	URLWeird  URLWeirdFeature `json:"url_weird"`
	Semantic  SemanticFeature `json:"semantic"`
	Anomaly   AnomalyFeature  `json:"anomaly"`
	Graph     GraphFeature    `json:"graph"`
}

type RetroFeature struct {
	Signals []string `json:"signals"`
	Score   float64  `json:"score"`
}

type URLWeirdFeature struct {
	Flags []string `json:"flags"`
	Score float64  `json:"score"`
}

type SemanticFeature struct {
	Score  float64  `json:"score"`
	NNDist *float64 `json:"nn_dist"`
}

type AnomalyFeature struct {
	Score float64 `json:"score"`
}

type GraphFeature struct {
	OutDegree        int     `json:"out_degree"`
	InDegree         int     `json:"in_degree"`
	ReciprocalLinks  int     `json:"reciprocal_links"`
	ComponentID      int     `json:"component_id"`
	ComponentSize    int     `json:"component_size"`
	ComponentDensity float64 `json:"component_density"`
	PageRank         float64 `json:"pagerank"`
	OddNeighborRatio float64 `json:"odd_neighbor_ratio"`
	HasWebring       bool    `json:"has_webring"`
	Score            float64 `json:"score"`
}

type LinksBundle struct {
	Outbound []LinkRecord `json:"outbound"`
}

type LinkRecord struct {
	URL        string   `json:"url"`
	AnchorText string   `json:"anchor_text,omitempty"`
	Rel        []string `json:"rel,omitempty"`
	FoundAt    string   `json:"found_at"`
}

type FetchMetricsRecord struct {
	DurationMS      int64 `json:"duration_ms"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
	ViaTor          bool  `json:"via_tor"`
}

// CascadeRecord is the serializable projection of a triage.Decision,
// shared by the observation record and the telemetry page event.
type CascadeRecord struct {
	ShouldSkip  bool                 `json:"should_skip"`
	Stages      []CascadeStageRecord `json:"stages"`
	FinalReason string               `json:"final_reason,omitempty"`
}

type CascadeStageRecord struct {
	Stage   string             `json:"stage"`
	Status  string             `json:"status"`
	Reason  string             `json:"reason,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func cascadeRecordOf(decision triage.Decision) *CascadeRecord {
	record := &CascadeRecord{
		ShouldSkip:  decision.ShouldSkip,
		FinalReason: decision.FinalReason,
	}
	for _, stage := range decision.Stages {
		record.Stages = append(record.Stages, CascadeStageRecord{
			Stage:   stage.Stage(),
			Status:  string(stage.Status()),
			Reason:  stage.Reason(),
			Metrics: stage.Metrics(),
		})
	}
	return record
}

// urlFlagsOf projects the extractor's boolean URL flags into the flag
// name list used by features.url_weird and the scoring reasons.
func urlFlagsOf(flags extractor.URLFlags) []string {
	var names []string
	if flags.CGIBin {
		names = append(names, "cgi-bin")
	}
	if flags.TildeHome {
		names = append(names, "tilde_home")
	}
	if flags.Insecure {
		names = append(names, "insecure")
	}
	return names
}

func graphFeatureOf(m graph.Metrics) GraphFeature {
	return GraphFeature{
		OutDegree:        m.OutDegree,
		InDegree:         m.InDegree,
		ReciprocalLinks:  m.ReciprocalLinks,
		ComponentID:      m.ComponentID,
		ComponentSize:    m.ComponentSize,
		ComponentDensity: m.ComponentDensity,
		PageRank:         m.PageRank,
		OddNeighborRatio: m.OddNeighborRatio,
		HasWebring:       m.HasWebring,
		Score:            m.GraphScore,
	}
}

// buildObservation assembles the full observation record from the step's
// intermediate products.
func buildObservation(
	rawURL string,
	canonical string,
	fetchedAt time.Time,
	status int,
	headers map[string]string,
	urlSHA256 string,
	contentSHA256 string,
	ext extractor.Extract,
	graphMetrics graph.Metrics,
	cascade *CascadeRecord,
	durationMS int64,
	bytesDownloaded int64,
	viaTor bool,
) Observation {
	links := make([]LinkRecord, 0, len(ext.OutboundLinks))
	for _, link := range ext.OutboundLinks {
		links = append(links, LinkRecord{
			URL:        link.URL,
			AnchorText: link.AnchorText,
			Rel:        link.Rel,
			FoundAt:    link.FoundAt.UTC().Format(time.RFC3339),
		})
	}

	return Observation{
		URL:          rawURL,
		URLCanonical: canonical,
		FetchedAt:    fetchedAt.UTC().Format(time.RFC3339),
		Status:       status,
		Headers:      headers,
		Hashes: ObservationHashes{
			URLSHA256:     urlSHA256,
			ContentSHA256: contentSHA256,
		},
		Extract: ObservationExtract{
			Title:       ext.Title,
			TextExcerpt: ext.TextExcerpt,
			TokenCount:  ext.TokenCount,
		},
		Features: FeatureBundle{
			HTMLRetro: RetroFeature{Signals: ext.RetroHTML.Signals, Score: ext.RetroHTML.Score},
			URLWeird:  URLWeirdFeature{Flags: urlFlagsOf(ext.URLWeird), Score: ext.URLWeird.Score},
			Semantic:  SemanticFeature{Score: ext.Semantic.Score, NNDist: ext.Semantic.NNDist},
			Anomaly:   AnomalyFeature{},
			Graph:     graphFeatureOf(graphMetrics),
		},
		Links:   LinksBundle{Outbound: links},
		Cascade: cascade,
		FetchMetrics: FetchMetricsRecord{
			DurationMS:      durationMS,
			BytesDownloaded: bytesDownloaded,
			ViaTor:          viaTor,
		},
	}
}

// redactedJSON serializes the observation with its excerpt capped at
// maxChars; stored excerpts never exceed the configured cap.
func (o Observation) redactedJSON(maxChars int) ([]byte, error) {
	redacted := o
	redacted.Extract.TextExcerpt = truncateString(redacted.Extract.TextExcerpt, maxChars)
	return json.MarshalIndent(redacted, "", "  ")
}
