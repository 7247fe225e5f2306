package strategies

// LeastRecent selects the least-recently-used account among the
// least-busy candidates. It favors letting every account cool between
// relays, which staggers rolling-window subscription caps.
type LeastRecent struct{}

// NewLeastRecent creates a least-recently-used strategy.
func NewLeastRecent() *LeastRecent {
	return &LeastRecent{}
}

// Select returns the index of the chosen candidate.
func (s *LeastRecent) Select(candidates []Candidate) int {
	idle := leastInFlight(candidates)

	best := idle[0]
	for _, i := range idle[1:] {
		if candidates[i].LastUsedAt.Before(candidates[best].LastUsedAt) {
			best = i
		}
	}
	return best
}

// Name returns the strategy name.
func (s *LeastRecent) Name() string {
	return "least-recent"
}

// Reset is a no-op; the strategy is stateless.
func (s *LeastRecent) Reset() {}

// ByName returns the strategy registered under name, defaulting to
// weighted round-robin for unknown or empty names.
func ByName(name string) Strategy {
	switch name {
	case "least-recent":
		return NewLeastRecent()
	case "round-robin", "":
		return NewRoundRobin()
	default:
		return NewRoundRobin()
	}
}
