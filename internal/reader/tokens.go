// Package reader holds what the tick sources share: the set of instruments
// currently worth subscribing to.
package reader

import (
	"sync"

	"scalpflow/internal/models"
)

// Instrument is one subscribable feed.
type Instrument struct {
	Source   models.Source
	Symbol   string
	Token    string
	Exchange string
}

// TokenSet maps broker tokens to the role they play for the engine. The spot
// index is fixed; the future and option legs follow the engine's contracts.
type TokenSet struct {
	mu   sync.RWMutex
	spot Instrument
	legs map[string]Instrument
}

func NewTokenSet(spotSymbol, spotToken, spotExchange string) *TokenSet {
	return &TokenSet{
		spot: Instrument{Source: models.SourceSpot, Symbol: spotSymbol, Token: spotToken, Exchange: spotExchange},
		legs: make(map[string]Instrument),
	}
}

// Update replaces the tracked legs and returns the instruments that were not
// tracked before.
func (s *TokenSet) Update(legs models.Legs) []Instrument {
	next := make(map[string]Instrument, 3)
	for _, in := range legInstruments(legs) {
		next[in.Token] = in
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var added []Instrument
	for _, in := range legInstruments(legs) {
		if _, ok := s.legs[in.Token]; !ok {
			added = append(added, in)
		}
	}
	s.legs = next
	return added
}

func legInstruments(legs models.Legs) []Instrument {
	out := make([]Instrument, 0, 3)
	add := func(src models.Source, c models.Contract) {
		if c.IsZero() || c.Token == "" {
			return
		}
		out = append(out, Instrument{Source: src, Symbol: c.Symbol, Token: c.Token, Exchange: c.Exchange})
	}
	add(models.SourceFuture, legs.Future)
	add(models.SourceCall, legs.Call)
	add(models.SourcePut, legs.Put)
	return out
}

// Lookup resolves a token to its instrument.
func (s *TokenSet) Lookup(token string) (Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token != "" && token == s.spot.Token {
		return s.spot, true
	}
	in, ok := s.legs[token]
	return in, ok
}

// Spot returns the index instrument.
func (s *TokenSet) Spot() Instrument {
	return s.spot
}

// Leg returns the tracked instrument for src.
func (s *TokenSet) Leg(src models.Source) (Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, in := range s.legs {
		if in.Source == src {
			return in, true
		}
	}
	return Instrument{}, false
}

// All returns the spot instrument followed by the tracked legs in future,
// call, put order.
func (s *TokenSet) All() []Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Instrument, 0, 1+len(s.legs))
	if s.spot.Token != "" {
		out = append(out, s.spot)
	}
	for _, src := range []models.Source{models.SourceFuture, models.SourceCall, models.SourcePut} {
		for _, in := range s.legs {
			if in.Source == src {
				out = append(out, in)
			}
		}
	}
	return out
}
