// Package graph models the social trust graph: directed edges with
// confidence values, trust path search, social graph metrics and the
// multi-factor trust evaluator.
package graph

import (
	"sort"
	"sync"
	"time"
)

// EdgeLevel grades a social trust edge.
type EdgeLevel string

const (
	LevelInvited  EdgeLevel = "invited"
	LevelKnown    EdgeLevel = "known"
	LevelVerified EdgeLevel = "verified"
	LevelTrusted  EdgeLevel = "trusted"
	LevelCore     EdgeLevel = "core"
)

// Edge is a directed social trust relation. Confidence is in [0,1].
type Edge struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Level      EdgeLevel `json:"level"`
	Confidence float64   `json:"confidence"`
	Origin     string    `json:"origin,omitempty"`
	CreatedAt  int64     `json:"created_at"`
	UpdatedAt  int64     `json:"updated_at"`

	ChainDepth int     `json:"chain_depth,omitempty"`
	PathTrust  float64 `json:"path_trust,omitempty"`

	Interactions int `json:"interactions,omitempty"`
	Endorsements int `json:"endorsements,omitempty"`
	Disputes     int `json:"disputes,omitempty"`

	Scope string `json:"scope,omitempty"`

	Revoked          bool   `json:"revoked,omitempty"`
	RevokedAt        int64  `json:"revoked_at,omitempty"`
	RevocationReason string `json:"revocation_reason,omitempty"`
}

// Graph is an in-memory directed trust graph, safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	edges map[string]map[string]*Edge // from → to → edge
	now   func() time.Time
}

// NewGraph creates an empty graph. now overrides the clock for tests.
func NewGraph(now func() time.Time) *Graph {
	if now == nil {
		now = time.Now
	}
	return &Graph{edges: make(map[string]map[string]*Edge), now: now}
}

// AddEdge inserts or updates the directed edge from → to. Confidence is
// clamped into [0,1]; timestamps are maintained automatically.
func (g *Graph) AddEdge(edge Edge) {
	edge.Confidence = clamp(edge.Confidence)

	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.now().UnixMilli()
	if existing, ok := g.edges[edge.From][edge.To]; ok {
		edge.CreatedAt = existing.CreatedAt
	} else if edge.CreatedAt == 0 {
		edge.CreatedAt = nowMs
	}
	edge.UpdatedAt = nowMs

	if g.edges[edge.From] == nil {
		g.edges[edge.From] = make(map[string]*Edge)
	}
	g.edges[edge.From][edge.To] = &edge
}

// RevokeEdge marks the edge from → to revoked. Revoked edges stay in the
// graph for audit but are excluded from all traversals.
func (g *Graph) RevokeEdge(from, to, reason string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	edge, ok := g.edges[from][to]
	if !ok {
		return false
	}
	edge.Revoked = true
	edge.RevokedAt = g.now().UnixMilli()
	edge.RevocationReason = reason
	return true
}

// Edge returns the live edge from → to, or nil.
func (g *Graph) Edge(from, to string) *Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edge, ok := g.edges[from][to]
	if !ok || edge.Revoked {
		return nil
	}
	out := *edge
	return &out
}

// Edges returns all live edges.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	for _, tos := range g.edges {
		for _, edge := range tos {
			if edge.Revoked {
				continue
			}
			out = append(out, *edge)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// outgoing returns the live edges leaving a node, callers hold no lock.
func (g *Graph) outgoing(from string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Edge
	for _, edge := range g.edges[from] {
		if edge.Revoked {
			continue
		}
		e := *edge
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
