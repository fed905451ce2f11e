package graph

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/arlowright/oddcrawl/pkg/fileutil"
	"github.com/arlowright/oddcrawl/pkg/hashutil"
)

// snapshotEnvelope wraps the node-link document with a blake3 checksum
// of the serialized graph, so a torn or hand-edited snapshot is caught
// at load time instead of silently corrupting the crawl topology.
type snapshotEnvelope struct {
	Checksum string          `json:"checksum"`
	Graph    json.RawMessage `json:"graph"`
}

// save atomically persists the full node-link graph (tmp file
// + rename, caller holds s.mu).
func (s *Store) save() *GraphError {
	doc := persistedGraph{
		Nodes: s.nodes,
		Links: make([]EdgeRecord, 0, len(s.edges)),
	}
	for _, edge := range s.edges {
		doc.Links = append(doc.Links, *edge)
	}

	// Compact encoding is the canonical checksum form: re-indentation by
	// the envelope marshal must not invalidate the hash.
	graphData, err := json.Marshal(doc)
	if err != nil {
		return &GraphError{Message: err.Error(), Cause: ErrCauseDecodeFailure}
	}
	checksum, err := hashutil.HashBytes(graphData, hashutil.HashAlgoBLAKE3)
	if err != nil {
		return &GraphError{Message: err.Error(), Cause: ErrCauseDecodeFailure}
	}
	data, err := json.MarshalIndent(snapshotEnvelope{Checksum: checksum, Graph: graphData}, "", "  ")
	if err != nil {
		return &GraphError{Message: err.Error(), Cause: ErrCauseDecodeFailure}
	}
	if writeErr := fileutil.WriteFileAtomic(s.path, data, 0644); writeErr != nil {
		return &GraphError{Message: writeErr.Error(), Cause: ErrCauseWriteFailure}
	}
	return nil
}

// Load restores a Store from a node-link JSON snapshot at path. A missing
// file yields a fresh, empty Store, matching run-loop startup semantics
// (first run has no prior graph). A checksum mismatch is an error: a
// corrupt topology must not be resumed from.
func Load(path string, writeEveryN int) (*Store, *GraphError) {
	store := New(path, writeEveryN)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, &GraphError{Message: err.Error(), Cause: ErrCauseReadFailure}
	}

	var envelope snapshotEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &GraphError{Message: err.Error(), Cause: ErrCauseDecodeFailure}
	}
	if envelope.Checksum != "" {
		var compact bytes.Buffer
		if err := json.Compact(&compact, envelope.Graph); err != nil {
			return nil, &GraphError{Message: err.Error(), Cause: ErrCauseDecodeFailure}
		}
		checksum, hashErr := hashutil.HashBytes(compact.Bytes(), hashutil.HashAlgoBLAKE3)
		if hashErr != nil {
			return nil, &GraphError{Message: hashErr.Error(), Cause: ErrCauseDecodeFailure}
		}
		if checksum != envelope.Checksum {
			return nil, &GraphError{Message: "graph snapshot checksum mismatch", Cause: ErrCauseDecodeFailure}
		}
	}

	var doc persistedGraph
	if err := json.Unmarshal(envelope.Graph, &doc); err != nil {
		return nil, &GraphError{Message: err.Error(), Cause: ErrCauseDecodeFailure}
	}

	store.nodes = doc.Nodes
	for i, node := range store.nodes {
		store.idByURL[node.URL] = i
		store.outAdj[i] = make(map[int]struct{})
		store.inAdj[i] = make(map[int]struct{})
	}
	for _, edge := range doc.Links {
		e := edge
		store.edges[edgeKey{e.Source, e.Target}] = &e
		store.outAdj[e.Source][e.Target] = struct{}{}
		store.inAdj[e.Target][e.Source] = struct{}{}
	}
	store.dirty = true
	return store, nil
}
