package scorer

import (
	"sync"
	"sync/atomic"

	"github.com/corterix/gateway/pkg/modelapi"
)

// LoadBalanceScorer backs both the RoundRobin and LeastLoaded router
// strategies, grounded on internal/router/base.go's deployment stats
// bookkeeping and the teacher's (unimplemented in Go) round-robin cursor
// referenced by pkg/router/round_robin_store.go.
type LoadBalanceScorer struct {
	mu      sync.Mutex
	cursors map[string]*uint64 // keyed by the candidate-set fingerprint
}

func NewLoadBalanceScorer() *LoadBalanceScorer {
	return &LoadBalanceScorer{cursors: make(map[string]*uint64)}
}

// Next implements round-robin: given a stable key for the candidate set
// (e.g. a sorted join of candidate IDs) and its length, returns the index
// to pick this time.
func (s *LoadBalanceScorer) Next(setKey string, n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	c, ok := s.cursors[setKey]
	if !ok {
		var zero uint64
		c = &zero
		s.cursors[setKey] = c
	}
	s.mu.Unlock()

	v := atomic.AddUint64(c, 1) - 1
	return int(v % uint64(n))
}

// LeastLoadedScore returns a higher-is-better score inversely proportional
// to a model's current concurrent request count.
func (s *LoadBalanceScorer) LeastLoadedScore(m modelapi.Model) float64 {
	concurrent := m.Metrics().ConcurrentRequests
	return 1.0 / (1.0 + float64(concurrent))
}
