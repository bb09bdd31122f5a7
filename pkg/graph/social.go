package graph

import "sort"

// ClusterConfidence is the minimum edge confidence for cluster membership.
const ClusterConfidence = 0.7

// Node is a social graph participant with its computed metrics.
// Centrality is a proxy: the number of simple two-hop paths routed
// through the node.
type Node struct {
	ID         string  `json:"id"`
	InDegree   int     `json:"in_degree"`
	OutDegree  int     `json:"out_degree"`
	Centrality int     `json:"centrality"`
	AvgOut     float64 `json:"avg_outgoing_confidence"`
}

// Cluster is a connected component over high-confidence edges.
type Cluster struct {
	Members []string `json:"members"`
}

// SocialGraph is the computed view over all live edges.
type SocialGraph struct {
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Clusters []Cluster `json:"clusters"`

	NodeCount     int     `json:"node_count"`
	EdgeCount     int     `json:"edge_count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// BuildSocialGraph enumerates all live edges and computes per-node degree,
// the centrality proxy, and clusters: connected components (ignoring
// direction) over edges with confidence >= ClusterConfidence.
func (g *Graph) BuildSocialGraph() *SocialGraph {
	edges := g.Edges()

	nodes := make(map[string]*Node)
	ensure := func(id string) *Node {
		n, ok := nodes[id]
		if !ok {
			n = &Node{ID: id}
			nodes[id] = n
		}
		return n
	}

	outSum := make(map[string]float64)
	var confidenceSum float64
	for _, edge := range edges {
		ensure(edge.From).OutDegree++
		ensure(edge.To).InDegree++
		outSum[edge.From] += edge.Confidence
		confidenceSum += edge.Confidence
	}

	// Centrality proxy: a→n→b with a != b counts one two-hop path
	// through n.
	adj := make(map[string][]string)
	for _, edge := range edges {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}
	for _, mid := range sortedKeys(nodes) {
		n := nodes[mid]
		for _, edge := range edges {
			if edge.To != mid {
				continue
			}
			for _, next := range adj[mid] {
				if next != edge.From {
					n.Centrality++
				}
			}
		}
		if n.OutDegree > 0 {
			n.AvgOut = outSum[mid] / float64(n.OutDegree)
		}
	}

	out := &SocialGraph{
		Edges:     edges,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}
	if len(edges) > 0 {
		out.AvgConfidence = confidenceSum / float64(len(edges))
	}
	for _, id := range sortedKeys(nodes) {
		out.Nodes = append(out.Nodes, *nodes[id])
	}
	out.Clusters = clusters(edges)
	return out
}

// clusters finds connected components over high-confidence edges,
// ignoring edge direction.
func clusters(edges []Edge) []Cluster {
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for _, edge := range edges {
		if edge.Confidence >= ClusterConfidence {
			union(edge.From, edge.To)
		}
	}

	members := make(map[string][]string)
	for node := range parent {
		root := find(node)
		members[root] = append(members[root], node)
	}

	var out []Cluster
	for _, root := range sortedStringKeys(members) {
		group := members[root]
		sort.Strings(group)
		out = append(out, Cluster{Members: group})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Members[0] < out[j].Members[0] })
	return out
}

func sortedKeys(m map[string]*Node) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedStringKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
