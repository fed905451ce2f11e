package graph

const (
	pagerankDamping   = 0.85
	pagerankMaxIter   = 100
	pagerankTolerance = 1e-6
)

// computePageRank runs damped PageRank over the current arena, falling
// back to a uniform distribution if it fails to converge within the
// iteration budget.
func (s *Store) computePageRank() []float64 {
	n := len(s.nodes)
	rank := make([]float64, n)
	if n == 0 {
		return rank
	}
	uniform := 1.0 / float64(n)
	for i := range rank {
		rank[i] = uniform
	}

	outDegree := make([]int, n)
	for id, succ := range s.outAdj {
		outDegree[id] = len(succ)
	}

	newRank := make([]float64, n)
	converged := false
	for iter := 0; iter < pagerankMaxIter; iter++ {
		danglingSum := 0.0
		for id := 0; id < n; id++ {
			if outDegree[id] == 0 {
				danglingSum += rank[id]
			}
		}
		base := (1-pagerankDamping)/float64(n) + pagerankDamping*danglingSum/float64(n)
		for v := 0; v < n; v++ {
			newRank[v] = base
		}
		for v := 0; v < n; v++ {
			for u := range s.inAdj[v] {
				if outDegree[u] > 0 {
					newRank[v] += pagerankDamping * rank[u] / float64(outDegree[u])
				}
			}
		}

		diff := 0.0
		for i := range newRank {
			d := newRank[i] - rank[i]
			if d < 0 {
				d = -d
			}
			diff += d
		}
		copy(rank, newRank)
		if diff < pagerankTolerance*float64(n) {
			converged = true
			break
		}
	}

	if !converged {
		for i := range rank {
			rank[i] = uniform
		}
	}
	return rank
}
