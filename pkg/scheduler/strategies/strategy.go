package strategies

import "time"

// Candidate is the scheduler's view of one eligible account offered to a
// selection strategy. The pool has already filtered for platform, status,
// cooldown and concurrency ceiling.
type Candidate struct {
	// ID is the account identifier.
	ID string

	// Weight is the account's selection weight (>= 1).
	Weight int

	// InFlight is the account's current in-flight request count.
	InFlight int

	// LastUsedAt is when the account last served a relay.
	LastUsedAt time.Time
}

// Strategy selects one account from a non-empty candidate list.
//
// Implementations must be thread-safe as they are called concurrently
// from multiple goroutines handling simultaneous relays. They must also
// honor the fairness invariant: among the offered candidates, one with
// zero in-flight requests is never skipped in favor of a busier one.
type Strategy interface {
	// Select returns the index of the chosen candidate.
	// The candidate list is never empty.
	Select(candidates []Candidate) int

	// Name returns the strategy name for logging and configuration.
	Name() string

	// Reset resets the strategy's internal state.
	// This is primarily used for testing to clear counters.
	Reset()
}

// leastInFlight narrows candidates to those sharing the minimum in-flight
// count. All strategies select within this subset, which enforces the
// fairness invariant before any rotation or recency policy applies.
func leastInFlight(candidates []Candidate) []int {
	min := candidates[0].InFlight
	for _, c := range candidates[1:] {
		if c.InFlight < min {
			min = c.InFlight
		}
	}

	indexes := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if c.InFlight == min {
			indexes = append(indexes, i)
		}
	}
	return indexes
}
