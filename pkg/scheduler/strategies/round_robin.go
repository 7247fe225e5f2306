package strategies

import "sync/atomic"

// RoundRobin implements weighted rotation among eligible accounts.
//
// Selection narrows to the candidates with the lowest in-flight count,
// then rotates a weighted list built from their weights (a candidate with
// weight 2 appears twice). The combination spreads load by priority while
// never starving an idle account behind a busier one.
//
// The strategy is thread-safe and uses an atomic counter; the counter is
// reset on overflow to prevent unbounded growth.
type RoundRobin struct {
	counter atomic.Int64
}

// NewRoundRobin creates a weighted round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Select returns the index of the chosen candidate.
func (s *RoundRobin) Select(candidates []Candidate) int {
	if len(candidates) == 1 {
		return 0
	}

	idle := leastInFlight(candidates)
	if len(idle) == 1 {
		return idle[0]
	}

	// Build the weighted rotation list over the least-busy subset.
	weighted := make([]int, 0, len(idle))
	for _, i := range idle {
		weight := candidates[i].Weight
		if weight < 1 {
			weight = 1
		}
		for w := 0; w < weight; w++ {
			weighted = append(weighted, i)
		}
	}

	count := s.counter.Add(1) - 1
	if count >= 1_000_000_000 {
		s.counter.CompareAndSwap(count+1, 0)
		count = 0
	}

	return weighted[int(count%int64(len(weighted)))]
}

// Name returns the strategy name.
func (s *RoundRobin) Name() string {
	return "round-robin"
}

// Reset resets the rotation counter.
func (s *RoundRobin) Reset() {
	s.counter.Store(0)
}
