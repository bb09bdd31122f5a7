package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/trust"
)

// Trust contexts with their acceptance thresholds.
const (
	ContextFileTransfer  = "file-transfer"
	ContextCommunication = "communication"
	ContextGeneral       = "general"

	fileTransferThreshold  = 0.7
	communicationThreshold = 0.5
)

// Base level and starting confidence per relationship status.
var baseLevels = map[trust.Status]struct{ level, confidence float64 }{
	trust.StatusTrusted:   {0.9, 0.5},
	trust.StatusPending:   {0.3, 0.5},
	trust.StatusUntrusted: {0.1, 0.8},
	trust.StatusRevoked:   {0.0, 1.0},
}

// Recency windows for the last_verified adjustment.
const (
	recentWindow = 7 * 24 * time.Hour
	staleWindow  = 30 * 24 * time.Hour
)

// CertificateSource is the slice of the CA engine the evaluator needs:
// device certificate lookup and chain verification.
type CertificateSource interface {
	CertificatesBySubject(ctx context.Context, subject string) ([]*cert.Certificate, error)
	VerifyChain(ctx context.Context, leaf, root *cert.Certificate) (*ca.ChainResult, error)
}

// Evaluation is the outcome of a multi-factor trust evaluation. Level and
// Confidence are always within [0,1].
type Evaluation struct {
	Level      float64     `json:"level"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason"`
	TrustLevel trust.Level `json:"trust_level,omitempty"`
}

// Evaluator combines the trust store, the device certificate chain and the
// social graph into trust decisions.
type Evaluator struct {
	trust *trust.Store
	certs CertificateSource
	graph *Graph
	self  string
	now   func() time.Time
}

// NewEvaluator creates an evaluator for the instance identified by self.
// certs may be nil, in which case the certificate factor is skipped.
func NewEvaluator(trustStore *trust.Store, certs CertificateSource, g *Graph, self string, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{trust: trustStore, certs: certs, graph: g, self: self, now: now}
}

// EvaluateTrust scores a peer for a given context. The factors, in order:
// base level by relationship status, device-certificate chain
// verification, verification recency, relationship expiry, and the
// context's acceptance threshold.
func (e *Evaluator) EvaluateTrust(ctx context.Context, peer, trustContext string) (*Evaluation, error) {
	rel, err := e.trust.Get(ctx, peer)
	if err == trust.ErrNotFound {
		return &Evaluation{Level: 0, Confidence: 0.5, Reason: "no_relationship"}, nil
	}
	if err != nil {
		return nil, err
	}

	base, ok := baseLevels[rel.Status]
	if !ok {
		return &Evaluation{Level: 0, Confidence: 0.5, Reason: "unknown_status"}, nil
	}
	level := base.level
	confidence := base.confidence

	confidence = e.applyCertificateFactor(ctx, rel, confidence)
	confidence = e.applyRecencyFactor(rel, confidence)

	nowMs := e.now().UnixMilli()
	if rel.ValidUntil != 0 && rel.ValidUntil < nowMs {
		return &Evaluation{Level: 0, Confidence: 1.0, Reason: "expired", TrustLevel: rel.TrustLevel}, nil
	}

	result := &Evaluation{
		Level:      clamp(level),
		Confidence: clamp(confidence),
		Reason:     string(rel.Status),
		TrustLevel: rel.TrustLevel,
	}
	switch trustContext {
	case ContextFileTransfer:
		if result.Level < fileTransferThreshold {
			result.Reason = "insufficient_trust_for_file_transfer"
		}
	case ContextCommunication:
		if result.Level < communicationThreshold {
			result.Reason = "insufficient_trust_for_communication"
		}
	}
	return result, nil
}

// applyCertificateFactor adjusts confidence by the device-certificate
// chain: +0.2 when a verified chain attests the peer's key, -0.1 when the
// lookup itself fails.
func (e *Evaluator) applyCertificateFactor(ctx context.Context, rel *trust.Relationship, confidence float64) float64 {
	if e.certs == nil {
		return confidence
	}
	certs, err := e.certs.CertificatesBySubject(ctx, rel.Peer)
	if err != nil {
		return clamp(confidence - 0.1)
	}
	for _, c := range certs {
		if c.Kind != cert.KindDevice || c.SubjectPublicKey != rel.PeerPublicKey {
			continue
		}
		chain, err := e.certs.VerifyChain(ctx, c, nil)
		if err == nil && chain.Valid {
			return clamp(confidence + 0.2)
		}
	}
	return confidence
}

// applyRecencyFactor adjusts confidence by verification age: +0.1 inside
// seven days, -0.1 past thirty.
func (e *Evaluator) applyRecencyFactor(rel *trust.Relationship, confidence float64) float64 {
	if rel.LastVerified == 0 {
		return confidence
	}
	age := e.now().Sub(time.UnixMilli(rel.LastVerified))
	switch {
	case age <= recentWindow:
		return clamp(confidence + 0.1)
	case age > staleWindow:
		return clamp(confidence - 0.1)
	default:
		return confidence
	}
}

// DefaultChainDepth bounds TrustChain traversal.
const DefaultChainDepth = 3

// ChainNode is one node in the breadth-first trust chain tree.
type ChainNode struct {
	ID            string       `json:"id"`
	Depth         int          `json:"depth"`
	EstablishedBy string       `json:"established_by,omitempty"`
	TrustLevel    string       `json:"trust_level"`
	Children      []*ChainNode `json:"children,omitempty"`
}

// TrustChain builds a breadth-first tree of outgoing trust rooted at the
// evaluator's own identity (trust_level self), terminating at maxDepth
// (DefaultChainDepth when maxDepth <= 0). Each node records its depth, the
// node that established it, and the level of the establishing edge.
func (e *Evaluator) TrustChain(ctx context.Context, maxDepth int) (*ChainNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}

	root := &ChainNode{ID: e.self, TrustLevel: string(trust.LevelSelf)}
	visited := map[string]bool{e.self: true}
	queue := []*ChainNode{root}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.Depth >= maxDepth {
			continue
		}
		for _, edge := range e.graph.outgoing(node.ID) {
			if visited[edge.To] {
				continue
			}
			visited[edge.To] = true
			child := &ChainNode{
				ID:            edge.To,
				Depth:         node.Depth + 1,
				EstablishedBy: node.ID,
				TrustLevel:    string(edge.Level),
			}
			node.Children = append(node.Children, child)
			queue = append(queue, child)
		}
	}
	return root, nil
}

// PathTrust documents the aggregation convention for path scores: the
// minimum confidence along the path.
func PathTrust(confidences []float64) (float64, error) {
	if len(confidences) == 0 {
		return 0, fmt.Errorf("empty path")
	}
	min := confidences[0]
	for _, c := range confidences[1:] {
		if c < min {
			min = c
		}
	}
	return clamp(min), nil
}
