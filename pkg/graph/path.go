package graph

// DefaultMaxPathDepth bounds trust path searches.
const DefaultMaxPathDepth = 6

// PathResult describes a trust path between two nodes. TotalTrust is the
// minimum confidence along the path (the widest-bottleneck convention;
// a product aggregation would punish long paths twice, once per hop and
// once through the bottleneck). Bottleneck is the weakest edge.
type PathResult struct {
	Path       []string `json:"path"`
	PathLength int      `json:"path_length"`
	TotalTrust float64  `json:"total_trust"`
	Bottleneck *Edge    `json:"bottleneck,omitempty"`
	IsValid    bool     `json:"is_valid"`
}

// CalculateTrustPath searches for the strongest trust path from → to
// within maxDepth hops (DefaultMaxPathDepth when maxDepth <= 0). Among
// all candidate paths the one with the highest bottleneck confidence wins;
// ties prefer the shorter path. Returns nil when no path exists.
func (g *Graph) CalculateTrustPath(from, to string, maxDepth int) *PathResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxPathDepth
	}
	if from == to {
		return &PathResult{Path: []string{from}, TotalTrust: 1, IsValid: true}
	}

	var best *PathResult
	visited := map[string]bool{from: true}
	path := []string{from}

	var walk func(node string, bottleneck float64, bottleneckEdge *Edge)
	walk = func(node string, bottleneck float64, bottleneckEdge *Edge) {
		if len(path)-1 >= maxDepth {
			return
		}
		for _, edge := range g.outgoing(node) {
			if visited[edge.To] {
				continue
			}
			nextBottleneck := bottleneck
			nextEdge := bottleneckEdge
			if edge.Confidence < nextBottleneck || nextEdge == nil {
				nextBottleneck = edge.Confidence
				nextEdge = edge
			}

			path = append(path, edge.To)
			if edge.To == to {
				candidate := &PathResult{
					Path:       append([]string(nil), path...),
					PathLength: len(path) - 1,
					TotalTrust: nextBottleneck,
					Bottleneck: nextEdge,
					IsValid:    true,
				}
				if best == nil || candidate.TotalTrust > best.TotalTrust ||
					(candidate.TotalTrust == best.TotalTrust && candidate.PathLength < best.PathLength) {
					best = candidate
				}
			} else {
				visited[edge.To] = true
				walk(edge.To, nextBottleneck, nextEdge)
				visited[edge.To] = false
			}
			path = path[:len(path)-1]
		}
	}
	walk(from, 1, nil)
	return best
}
