package strategies

import (
	"sync"
	"testing"
	"time"
)

func TestRoundRobinSingleCandidate(t *testing.T) {
	s := NewRoundRobin()
	got := s.Select([]Candidate{{ID: "a", Weight: 1}})
	if got != 0 {
		t.Errorf("Select() = %d, want 0", got)
	}
}

func TestRoundRobinRotation(t *testing.T) {
	s := NewRoundRobin()
	candidates := []Candidate{
		{ID: "a", Weight: 1},
		{ID: "b", Weight: 1},
		{ID: "c", Weight: 1},
	}

	counts := make(map[string]int)
	for i := 0; i < 30; i++ {
		idx := s.Select(candidates)
		counts[candidates[idx].ID]++
	}

	for _, c := range candidates {
		if counts[c.ID] != 10 {
			t.Errorf("candidate %s selected %d times, want 10", c.ID, counts[c.ID])
		}
	}
}

func TestRoundRobinWeightedDistribution(t *testing.T) {
	s := NewRoundRobin()
	candidates := []Candidate{
		{ID: "heavy", Weight: 3},
		{ID: "light", Weight: 1},
	}

	counts := make(map[string]int)
	for i := 0; i < 40; i++ {
		idx := s.Select(candidates)
		counts[candidates[idx].ID]++
	}

	if counts["heavy"] != 30 {
		t.Errorf("heavy selected %d times, want 30", counts["heavy"])
	}
	if counts["light"] != 10 {
		t.Errorf("light selected %d times, want 10", counts["light"])
	}
}

func TestRoundRobinPrefersLeastInFlight(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		want       string
	}{
		{
			name: "idle account wins over busy high-weight account",
			candidates: []Candidate{
				{ID: "busy", Weight: 10, InFlight: 3},
				{ID: "idle", Weight: 1, InFlight: 0},
			},
			want: "idle",
		},
		{
			name: "lowest in-flight wins when none are idle",
			candidates: []Candidate{
				{ID: "a", Weight: 1, InFlight: 5},
				{ID: "b", Weight: 1, InFlight: 2},
				{ID: "c", Weight: 1, InFlight: 7},
			},
			want: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRoundRobin()
			for i := 0; i < 10; i++ {
				idx := s.Select(tt.candidates)
				if got := tt.candidates[idx].ID; got != tt.want {
					t.Fatalf("Select() = %s, want %s", got, tt.want)
				}
			}
		})
	}
}

func TestRoundRobinConcurrentSelect(t *testing.T) {
	s := NewRoundRobin()
	candidates := []Candidate{
		{ID: "a", Weight: 1},
		{ID: "b", Weight: 1},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx := s.Select(candidates)
			if idx < 0 || idx >= len(candidates) {
				t.Errorf("Select() out of range: %d", idx)
			}
		}()
	}
	wg.Wait()
}

func TestLeastRecent(t *testing.T) {
	now := time.Now()
	s := NewLeastRecent()

	candidates := []Candidate{
		{ID: "recent", Weight: 1, LastUsedAt: now},
		{ID: "stale", Weight: 1, LastUsedAt: now.Add(-time.Hour)},
		{ID: "never", Weight: 1},
	}

	idx := s.Select(candidates)
	if candidates[idx].ID != "never" {
		t.Errorf("Select() = %s, want never", candidates[idx].ID)
	}
}

func TestLeastRecentRespectsInFlight(t *testing.T) {
	now := time.Now()
	s := NewLeastRecent()

	candidates := []Candidate{
		{ID: "stale-busy", Weight: 1, InFlight: 2, LastUsedAt: now.Add(-time.Hour)},
		{ID: "fresh-idle", Weight: 1, InFlight: 0, LastUsedAt: now},
	}

	idx := s.Select(candidates)
	if candidates[idx].ID != "fresh-idle" {
		t.Errorf("Select() = %s, want fresh-idle", candidates[idx].ID)
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "round-robin", want: "round-robin"},
		{name: "least-recent", want: "least-recent"},
		{name: "unknown", want: "round-robin"},
		{name: "", want: "round-robin"},
	}

	for _, tt := range tests {
		t.Run("name "+tt.name, func(t *testing.T) {
			if got := ByName(tt.name).Name(); got != tt.want {
				t.Errorf("ByName(%q).Name() = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
