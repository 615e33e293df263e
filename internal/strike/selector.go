// Package strike picks the at-the-money strike for the tracked option legs.
package strike

import (
	"math"
	"time"
)

// State is the selector's view of the active strike. Switched is set only on
// the Select call that changed Active.
type State struct {
	Active         int       `json:"active_strike"`
	LastSwitch     time.Time `json:"last_switch_time"`
	Candidate      int       `json:"candidate_strike"`
	CandidateSince time.Time `json:"candidate_since"`
	Resolved       bool      `json:"resolved"`
	Adopted        bool      `json:"adopted"`
	Switched       bool      `json:"-"`
}

// HasActive reports whether a strike has ever been adopted.
func (s State) HasActive() bool {
	return s.Adopted
}

// Selector applies hysteresis to the nearest strike so that price noise
// around a strike boundary does not flip the tracked contracts.
type Selector struct {
	band    float64
	confirm time.Duration
	state   State
}

// NewSelector builds a selector switching once price is more than band points
// away from the active strike, and the new strike has been the candidate for
// at least confirm.
func NewSelector(band float64, confirm time.Duration) *Selector {
	if band < 0 {
		band = 0
	}
	if confirm < 0 {
		confirm = 0
	}
	return &Selector{band: band, confirm: confirm}
}

// Nearest rounds price to the closest multiple of step, halves rounding up.
func Nearest(price float64, step int) (int, bool) {
	if step <= 0 || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, false
	}
	s := float64(step)
	return int(math.Floor(price/s+0.5)) * step, true
}

// Select feeds the current underlying price. An unusable price leaves the
// state untouched and returns it with Resolved false.
func (s *Selector) Select(price float64, step int, now time.Time) State {
	s.state.Switched = false

	raw, ok := Nearest(price, step)
	if !ok {
		out := s.state
		out.Resolved = false
		return out
	}
	s.state.Resolved = true

	if !s.state.HasActive() {
		s.adopt(raw, now)
		return s.state
	}

	if math.Abs(price-float64(s.state.Active)) <= s.band || raw == s.state.Active {
		s.clearCandidate()
		return s.state
	}

	if s.state.Candidate != raw || s.state.CandidateSince.IsZero() {
		s.state.Candidate = raw
		s.state.CandidateSince = now
	}
	if now.Sub(s.state.CandidateSince) >= s.confirm {
		s.adopt(raw, now)
	}
	return s.state
}

// State returns the current state without feeding a price.
func (s *Selector) State() State {
	return s.state
}

// Restore rolls the selector back to prev, used when contracts for a new
// strike could not be resolved.
func (s *Selector) Restore(prev State) {
	prev.Switched = false
	s.state = prev
}

func (s *Selector) adopt(strike int, now time.Time) {
	s.state.Active = strike
	s.state.LastSwitch = now
	s.state.Adopted = true
	s.state.Switched = true
	s.clearCandidate()
}

func (s *Selector) clearCandidate() {
	s.state.Candidate = 0
	s.state.CandidateSince = time.Time{}
}
