package cert

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SerialGenerator produces serial numbers unique within one issuer: a
// monotonically increasing counter combined with the issuance timestamp and
// a short random tag. A collision would be a fatal bug, not a recoverable
// condition.
type SerialGenerator struct {
	mu      sync.Mutex
	counter uint64
	now     func() time.Time
}

// NewSerialGenerator creates a generator. now overrides the clock for
// tests; nil means time.Now.
func NewSerialGenerator(now func() time.Time) *SerialGenerator {
	if now == nil {
		now = time.Now
	}
	return &SerialGenerator{now: now}
}

// Next returns a fresh serial number of the form
// <millis>-<counter>-<random-tag>.
func (g *SerialGenerator) Next() string {
	g.mu.Lock()
	g.counter++
	n := g.counter
	g.mu.Unlock()

	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%06d-%s", g.now().UnixMilli(), n, tag)
}
