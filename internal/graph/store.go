package graph

import (
	"net/url"
	"sync"
	"time"

	"github.com/arlowright/oddcrawl/pkg/failure"
)

/*
Store is the persistent directed link graph. It holds the
mutable crawl topology in an arena: NodeRecord values indexed by stable
integer ID, with a url->id map for lookups, so edges reference IDs
rather than pointers and the whole thing serializes cleanly to node-link
JSON.

The graph store is effectively
single-writer: callers serialize RecordPage/UpdateScore per source URL.
The mutex here just makes that safe if a caller forgets.
*/
type Store struct {
	mu sync.Mutex

	nodes   []NodeRecord
	idByURL map[string]int
	edges   map[edgeKey]*EdgeRecord
	outAdj  map[int]map[int]struct{}
	inAdj   map[int]map[int]struct{}

	dirty bool
	rank  []float64

	path           string
	writeEveryN    int
	sinceLastWrite int
}

// New creates an empty Store that flushes to path every writeEveryN
// mutations (writeEveryN <= 1 means flush on every mutation).
func New(path string, writeEveryN int) *Store {
	if writeEveryN < 1 {
		writeEveryN = 1
	}
	return &Store{
		idByURL:     make(map[string]int),
		edges:       make(map[edgeKey]*EdgeRecord),
		outAdj:      make(map[int]map[int]struct{}),
		inAdj:       make(map[int]map[int]struct{}),
		path:        path,
		writeEveryN: writeEveryN,
	}
}

func (s *Store) ensureNode(rawURL string) int {
	if id, ok := s.idByURL[rawURL]; ok {
		return id
	}
	id := len(s.nodes)
	s.nodes = append(s.nodes, NodeRecord{ID: id, URL: rawURL})
	s.idByURL[rawURL] = id
	s.outAdj[id] = make(map[int]struct{})
	s.inAdj[id] = make(map[int]struct{})
	s.dirty = true
	return id
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// RecordPage is the per-page upsert: ensures the source node, updates its
// counters, upserts every outbound edge (self-loops excluded per the
// invariant), and returns the recomputed per-page metrics for the run
// loop to fold into Observation.features.graph.
func (s *Store) RecordPage(
	sourceURL string,
	fetchedAt time.Time,
	status int,
	title string,
	links []LinkInput,
	webringHits int,
) (Metrics, failure.ClassifiedError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcID := s.ensureNode(sourceURL)
	src := &s.nodes[srcID]
	if src.FirstSeen.IsZero() {
		src.FirstSeen = fetchedAt
	}
	src.LastSeen = fetchedAt
	src.Observations++
	src.Status = status
	src.Title = truncate(title, 200)
	src.WebringHits += webringHits

	domains := make(map[string]struct{})
	for _, link := range links {
		if link.URL == sourceURL {
			continue // self-loops forbidden
		}
		dstID := s.ensureNode(link.URL)
		s.upsertEdge(srcID, dstID, link.AnchorText, link.Rel, fetchedAt)
		if d := domainOf(link.URL); d != "" {
			domains[d] = struct{}{}
		}
	}
	src = &s.nodes[srcID] // ensureNode may have grown the slice
	src.OutboundCount = len(s.outAdj[srcID])
	src.OutboundDomains = len(domains)

	metrics := s.recomputeMetrics(srcID)
	s.maybeFlush()
	return metrics, nil
}

func (s *Store) upsertEdge(srcID, dstID int, anchorText string, rel []string, seenAt time.Time) {
	key := edgeKey{srcID, dstID}
	edge, ok := s.edges[key]
	if !ok {
		edge = &EdgeRecord{Source: srcID, Target: dstID}
		s.edges[key] = edge
		s.dirty = true
	}
	edge.Weight++
	edge.LastSeen = seenAt
	edge.AnchorTexts = appendDistinctRing(edge.AnchorTexts, anchorText, maxAnchorRing)
	edge.Rel = unionTokens(edge.Rel, rel)

	s.outAdj[srcID][dstID] = struct{}{}
	s.inAdj[dstID][srcID] = struct{}{}
}

// recomputeMetrics recomputes and stores the per-page structural metrics
// for node srcID, recomputing PageRank from scratch only if the topology
// changed since the last computation (tracked by the dirty flag).
func (s *Store) recomputeMetrics(srcID int) Metrics {
	if s.dirty || s.rank == nil {
		s.rank = s.computePageRank()
		s.dirty = false
	}
	components := s.computeComponents()

	src := &s.nodes[srcID]
	outDegree := len(s.outAdj[srcID])
	inDegree := len(s.inAdj[srcID])

	reciprocal := 0
	for succ := range s.outAdj[srcID] {
		if _, ok := s.inAdj[srcID][succ]; ok {
			reciprocal++
		}
	}

	oddCount := 0
	for succ := range s.outAdj[srcID] {
		if s.nodes[succ].LastScore >= 0.35 {
			oddCount++
		}
	}
	oddRatio := 0.0
	if outDegree > 0 {
		oddRatio = float64(oddCount) / float64(outDegree)
	}

	comp := components[srcID]
	pagerank := s.rank[srcID]

	gScore := 0.0
	if src.WebringHits > 0 {
		gScore += minF(0.4, 0.2+0.1*float64(src.WebringHits))
	}
	gScore += minF(float64(outDegree)/15.0, 0.2)
	gScore += minF(float64(reciprocal)/5.0, 0.15)
	gScore += minF(float64(comp.size)/12.0, 0.15)
	gScore += minF(pagerank*5.0, 0.1)
	gScore += minF(oddRatio*0.2, 0.2)
	gScore = minF(gScore, 1.0)

	src.PageRank = pagerank
	src.ComponentID = comp.id
	src.ComponentSize = comp.size
	src.ComponentDensity = comp.density
	src.ReciprocalLinks = reciprocal
	src.OddNeighborRatio = oddRatio
	src.GraphScore = gScore

	return Metrics{
		OutDegree:        outDegree,
		InDegree:         inDegree,
		ReciprocalLinks:  reciprocal,
		ComponentID:      comp.id,
		ComponentSize:    comp.size,
		ComponentDensity: comp.density,
		PageRank:         pagerank,
		OddNeighborRatio: oddRatio,
		GraphScore:       gScore,
		HasWebring:       src.WebringHits > 0,
	}
}

// UpdateScore records the fused oddness score decision against a node,
// appending to its bounded score_history ring.
func (s *Store) UpdateScore(sourceURL string, score float64, action string) failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.ensureNode(sourceURL)
	node := &s.nodes[id]
	node.LastScore = score
	node.LastAction = action
	node.ScoreHistory = append(node.ScoreHistory, ScoreHistoryEntry{Score: score, Action: action})
	if len(node.ScoreHistory) > maxScoreRing {
		node.ScoreHistory = node.ScoreHistory[len(node.ScoreHistory)-maxScoreRing:]
	}
	s.maybeFlush()
	return nil
}

// NodeByURL returns a copy of the node record for sourceURL, if present.
func (s *Store) NodeByURL(sourceURL string) (NodeRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idByURL[sourceURL]
	if !ok {
		return NodeRecord{}, false
	}
	return s.nodes[id], true
}

// Path reports where snapshots are written.
func (s *Store) Path() string {
	return s.path
}

// Len reports the number of nodes currently tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *Store) maybeFlush() {
	if s.path == "" {
		return
	}
	s.sinceLastWrite++
	if s.sinceLastWrite < s.writeEveryN {
		return
	}
	s.sinceLastWrite = 0
	_ = s.save()
}

// Flush forces an immediate atomic snapshot write regardless of the
// buffering threshold, used by the run loop's checkpoint step.
func (s *Store) Flush() failure.ClassifiedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(); err != nil {
		return err
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func appendDistinctRing(ring []string, value string, max int) []string {
	if value == "" {
		return ring
	}
	for _, v := range ring {
		if v == value {
			return ring
		}
	}
	ring = append(ring, value)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}

func unionTokens(existing []string, add []string) []string {
	set := make(map[string]struct{}, len(existing)+len(add))
	for _, v := range existing {
		set[v] = struct{}{}
	}
	for _, v := range add {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for _, v := range existing {
		if _, ok := set[v]; ok {
			out = append(out, v)
			delete(set, v)
		}
	}
	for _, v := range add {
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			out = append(out, v)
			delete(set, v)
		}
	}
	return out
}
