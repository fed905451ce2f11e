package graph

// componentInfo holds the weakly-connected-component membership and
// density computed over the undirected projection of the graph.
type componentInfo struct {
	id      int
	size    int
	density float64
}

// computeComponents returns, for every node ID, its weakly-connected
// component info (component_id/size/density over the undirected
// projection).
func (s *Store) computeComponents() []componentInfo {
	n := len(s.nodes)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	undirectedPairs := make(map[edgeKey]struct{})
	for key := range s.edges {
		union(key.src, key.dst)
		a, b := key.src, key.dst
		if a > b {
			a, b = b, a
		}
		undirectedPairs[edgeKey{a, b}] = struct{}{}
	}

	rootMembers := make(map[int][]int)
	for id := 0; id < n; id++ {
		r := find(id)
		rootMembers[r] = append(rootMembers[r], id)
	}
	rootEdgeCount := make(map[int]int)
	for pair := range undirectedPairs {
		r := find(pair.src)
		rootEdgeCount[r]++
	}

	info := make([]componentInfo, n)
	componentIDByRoot := make(map[int]int)
	nextID := 0
	for id := 0; id < n; id++ {
		r := find(id)
		cid, ok := componentIDByRoot[r]
		if !ok {
			cid = nextID
			componentIDByRoot[r] = cid
			nextID++
		}
		members := rootMembers[r]
		size := len(members)
		edges := rootEdgeCount[r]
		density := 0.0
		if size > 1 {
			maxPairs := float64(size) * float64(size-1) / 2
			density = float64(edges) / maxPairs
		}
		info[id] = componentInfo{id: cid, size: size, density: density}
	}
	return info
}
