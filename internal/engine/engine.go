// Package engine owns the signal engine state. Every mutation goes through
// Apply or Evaluate under one lock, so a record always reflects a consistent
// set of inputs.
package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"scalpflow/config"
	"scalpflow/internal/contracts"
	"scalpflow/internal/freshness"
	"scalpflow/internal/indicator"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
	"scalpflow/internal/signal"
	"scalpflow/internal/strike"
	"scalpflow/logger"
)

type Engine struct {
	mu sync.RWMutex

	step        int
	recordLimit int
	spotToken   string
	loc         *time.Location

	selector  *strike.Selector
	bank      *indicator.Bank
	trap      *signal.TrapFilter
	gate      *signal.SafetyGate
	resolver  *signal.Resolver
	fresh     *freshness.Tracker
	contracts contracts.Resolver

	legs    models.Legs
	legsOK  bool
	legsDay time.Time

	spot   series.Optional[float64]
	future series.Optional[float64]
	ce     series.Optional[float64]
	pe     series.Optional[float64]
	pcr    series.Optional[float64]

	// tick times of the last applied spot and future prices
	spotAt   time.Time
	futureAt time.Time

	history *series.Rolling[float64]
	latest  models.SignalRecord
	evals   int64

	onContracts func(models.Legs)
	log         *logger.Log
}

// New wires the engine components from configuration. resolver supplies the
// option and future contracts for each strike.
func New(cfg *config.Config, resolver contracts.Resolver) (*Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("engine: contract resolver is required")
	}
	ec := cfg.Engine
	gate, err := signal.NewSafetyGate(ec.Safety)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		step:        ec.Strike.Step,
		recordLimit: ec.History.RecordLimit,
		spotToken:   cfg.Contracts.SpotToken,
		loc:         config.Location(ec.Safety.Timezone),
		selector:    strike.NewSelector(ec.Strike.HysteresisBand, ec.Strike.SwitchConfirm),
		bank:        indicator.NewBank(ec),
		trap:        signal.NewTrapFilter(ec.Trap),
		gate:        gate,
		resolver:    signal.NewResolver(ec, gate),
		fresh:       freshness.NewTracker(ec.Freshness),
		contracts:   resolver,
		history:     series.NewRolling[float64](ec.History.Capacity),
		log:         logger.GetLogger(),
	}
	e.latest = models.SignalRecord{
		MarketStatus: models.StatusAwaitingData,
		Signal:       models.SignalWait,
		Sentiment:    models.Neutral,
		Trend:        models.Flat,
		MarketTrend:  models.Sideways,
		Trap:         models.NoTrap,
		Suggestion:   "Waiting for data",
		History:      []models.HistoryPoint{},
	}
	return e, nil
}

// OnContractsChanged registers fn to be called, outside the lock, whenever the
// tracked contracts change. Stream readers use it to resubscribe.
func (e *Engine) OnContractsChanged(fn func(models.Legs)) {
	e.mu.Lock()
	e.onContracts = fn
	e.mu.Unlock()
}

// Apply folds one tick into the engine and reports whether it was used. Ticks
// for contracts that are no longer tracked are ignored and do not refresh
// freshness.
func (e *Engine) Apply(t models.Tick) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := t.Source
	if src == models.SourceUnknown {
		src = e.classify(t)
	}

	seen := t.Received
	if seen.IsZero() {
		seen = t.Timestamp
	}
	if seen.IsZero() {
		seen = time.Now()
	}
	at := t.Timestamp
	if at.IsZero() {
		at = seen
	}

	switch src {
	case models.SourceSpot:
		v := series.Positive(t.Price)
		if !v.Valid() {
			return false
		}
		e.spot, e.spotAt = v, at
	case models.SourceFuture:
		v := series.Positive(t.Price)
		if !v.Valid() || (e.legsOK && !matches(t, e.legs.Future)) {
			return false
		}
		e.future, e.futureAt = v, at
	case models.SourceCall, models.SourcePut:
		leg := e.legs.Call
		if src == models.SourcePut {
			leg = e.legs.Put
		}
		v := series.Positive(t.Price)
		if !v.Valid() || !e.legsOK || !matches(t, leg) {
			return false
		}
		if src == models.SourceCall {
			e.ce = v
		} else {
			e.pe = v
		}
	case models.SourceOI:
		// zero put OI gives a legitimate ratio of 0
		ratio, ok := series.Float(t.Ratio.Or(math.NaN())).Get()
		if !ok || ratio < 0 {
			return false
		}
		e.pcr = series.Some(ratio)
	default:
		return false
	}

	e.fresh.Observe(src, seen)
	if d := t.Latency(); d > 0 {
		e.fresh.RecordLatency(d)
	}
	logger.IncrementTickApplied(string(src))
	return true
}

func (e *Engine) classify(t models.Tick) models.Source {
	switch {
	case t.Token == "":
		return models.SourceUnknown
	case t.Token == e.spotToken:
		return models.SourceSpot
	case !e.legsOK:
		return models.SourceUnknown
	case t.Token == e.legs.Future.Token:
		return models.SourceFuture
	case t.Token == e.legs.Call.Token:
		return models.SourceCall
	case t.Token == e.legs.Put.Token:
		return models.SourcePut
	}
	return models.SourceUnknown
}

// matches accepts untagged ticks, otherwise the token or symbol must match.
func matches(t models.Tick, c models.Contract) bool {
	switch {
	case t.Token != "":
		return t.Token == c.Token
	case t.Symbol != "":
		return t.Symbol == c.Symbol
	}
	return true
}

// Evaluate runs one evaluation cycle at now and returns the new record. It
// never fails; missing inputs degrade the record instead.
func (e *Engine) Evaluate(now time.Time) models.SignalRecord {
	e.mu.Lock()
	rec, changed := e.evaluate(now)
	notify := e.onContracts
	e.mu.Unlock()

	if changed != nil && notify != nil {
		notify(*changed)
	}
	return rec
}

func (e *Engine) evaluate(now time.Time) (models.SignalRecord, *models.Legs) {
	log := e.log.WithComponent("engine")
	e.evals++
	logger.IncrementEvaluation()

	underlying, underlyingAt := e.spot, e.spotAt
	if !underlying.Valid() {
		underlying, underlyingAt = e.future, e.futureAt
	}

	prev := e.selector.State()
	st := e.selector.Select(underlying.Or(0), e.step, now)

	var changed *models.Legs
	rollover := e.legsOK && !e.sameDay(e.legsDay, now)
	if st.HasActive() && st.Resolved && (st.Switched || !e.legsOK || rollover) {
		legs, err := e.resolveLegs(st.Active, now)
		if err != nil {
			entry := log.WithError(err).WithFields(logger.Fields{
				"strike":   st.Active,
				"previous": prev.Active,
			})
			if st.Switched {
				entry.Warn("failed to resolve contracts, keeping previous strike")
			} else {
				entry.Debug("contracts still unresolved")
			}
			if st.Switched {
				e.selector.Restore(prev)
			}
			st.Resolved = false
		} else {
			if e.adoptLegs(legs, now) {
				log.WithFields(logger.Fields{
					"strike":   legs.Strike,
					"ce":       legs.Call.Symbol,
					"pe":       legs.Put.Symbol,
					"future":   legs.Future.Symbol,
					"rollover": rollover,
				}).Info("tracking new contracts")
				snapshot := e.legs
				changed = &snapshot
			}
		}
	}

	var strikeOpt series.Optional[int]
	if e.legsOK {
		strikeOpt = series.Some(e.legs.Strike)
	}

	if v, ok := underlying.Get(); ok {
		e.gate.Observe(now, v)
	}
	snap := e.bank.Update(indicator.Observation{
		Time:           now,
		Underlying:     underlying,
		UnderlyingTime: underlyingAt,
		Strike:         strikeOpt,
		CE:             e.ce,
		PE:             e.pe,
	})

	verdict := e.trap.Evaluate(snap.Sentiment, e.pcr)
	market := e.gate.Trend()
	decision := e.resolver.Resolve(signal.Input{
		Now:       now,
		Sentiment: snap.Sentiment,
		Score:     snap.RelativeSentiment,
		Straddle:  snap.StraddleTrend,
		Trap:      verdict,
		Market:    market,
		Velocity:  snap.Velocity,
		PCR:       e.trap.PCR(e.pcr),
		CESymbol:  e.legs.Call.Symbol,
		PESymbol:  e.legs.Put.Symbol,
	})

	if v, ok := snap.StraddlePrice.Get(); ok {
		if last, ok := e.history.Last(); ok && !now.After(last.Time) {
			e.history.ReplaceLast(now, v)
		} else {
			e.history.Push(now, v)
		}
	}

	resolved := st.Resolved && e.legsOK
	atm := series.None[int]()
	if resolved {
		atm = series.Some(e.legs.Strike)
	}

	basis := series.None[float64]()
	if s, ok := e.spot.Get(); ok {
		if f, ok := e.future.Get(); ok {
			basis = series.Some(f - s)
		}
	}

	rec := models.SignalRecord{
		Timestamp:         now,
		MarketStatus:      e.status(underlying),
		LastPrice:         underlying,
		FuturePrice:       e.future,
		RSI:               snap.RSI,
		EMA:               snap.EMA,
		Signal:            decision.Signal,
		Rule:              decision.Rule,
		Sentiment:         snap.Sentiment,
		Trend:             snap.StraddleTrend,
		MarketTrend:       market,
		Trap:              verdict,
		StraddlePrice:     snap.StraddlePrice,
		SyntheticFuture:   snap.SyntheticFuture,
		RealBasis:         snap.RealBasis,
		RelativeSentiment: snap.RelativeSentiment,
		Basis:             basis,
		Velocity:          snap.Velocity,
		PCRRatio:          e.pcr,
		PCRAgeSeconds:     e.fresh.Age(models.SourceOI, now),
		LatencyMS:         e.fresh.LatencyMS(),
		ATMStrike:         atm,
		StrikeResolved:    resolved,
		CESymbol:          e.legs.Call.Symbol,
		PESymbol:          e.legs.Put.Symbol,
		CEPrice:           e.ce,
		PEPrice:           e.pe,
		Suggestion:        decision.Suggestion,
		Freshness:         e.fresh.Report(now),
		History:           e.historyPoints(e.recordLimit),
	}
	e.latest = rec
	return rec, changed
}

func (e *Engine) resolveLegs(atm int, now time.Time) (models.Legs, error) {
	call, err := e.contracts.ResolveOption(atm, models.Call, now)
	if err != nil {
		return models.Legs{}, fmt.Errorf("resolve %d CE: %w", atm, err)
	}
	put, err := e.contracts.ResolveOption(atm, models.Put, now)
	if err != nil {
		return models.Legs{}, fmt.Errorf("resolve %d PE: %w", atm, err)
	}
	legs := models.Legs{Strike: atm, Call: call, Put: put}
	if call.Strike > 0 {
		legs.Strike = call.Strike
	}
	if fut, err := e.contracts.ResolveFuture(now); err == nil {
		legs.Future = fut
	} else {
		e.log.WithComponent("engine").WithError(err).Debug("future contract unavailable")
	}
	return legs, nil
}

// adoptLegs installs legs and reports whether the tracked contracts changed.
// Quotes and straddle history of replaced legs are discarded.
func (e *Engine) adoptLegs(legs models.Legs, now time.Time) bool {
	same := e.legsOK &&
		legs.Call.Token == e.legs.Call.Token &&
		legs.Put.Token == e.legs.Put.Token &&
		legs.Future.Token == e.legs.Future.Token
	e.legsDay = now
	if same {
		return false
	}

	if !e.legsOK || legs.Call.Token != e.legs.Call.Token || legs.Put.Token != e.legs.Put.Token {
		e.ce, e.pe = series.None[float64](), series.None[float64]()
		e.fresh.Forget(models.SourceCall)
		e.fresh.Forget(models.SourcePut)
		e.bank.ResetStraddle()
	}
	if e.legsOK && legs.Future.Token != e.legs.Future.Token {
		e.future = series.None[float64]()
		e.fresh.Forget(models.SourceFuture)
	}
	e.legs = legs
	e.legsOK = true
	return true
}

func (e *Engine) status(underlying series.Optional[float64]) models.MarketStatus {
	switch {
	case e.future.Valid() || e.ce.Valid() || e.pe.Valid():
		return models.StatusLive
	case !underlying.Valid():
		return models.StatusAwaitingData
	case !e.legsOK:
		return models.StatusNoContracts
	default:
		return models.StatusAwaitingData
	}
}

func (e *Engine) sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(e.loc).Date()
	by, bm, bd := b.In(e.loc).Date()
	return ay == by && am == bm && ad == bd
}

func (e *Engine) historyPoints(limit int) []models.HistoryPoint {
	points := e.history.Tail(limit)
	out := make([]models.HistoryPoint, len(points))
	for i, p := range points {
		out[i] = models.HistoryPoint{Time: p.Time, Straddle: p.Value}
	}
	return out
}

// Latest returns the last evaluated record.
func (e *Engine) Latest() models.SignalRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// History returns up to limit straddle points, oldest first. A limit of zero
// or less returns all retained points.
func (e *Engine) History(limit int) []models.HistoryPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 {
		limit = e.history.Len()
	}
	return e.historyPoints(limit)
}

// Legs returns the tracked contracts and whether any have been resolved.
func (e *Engine) Legs() (models.Legs, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.legs, e.legsOK
}

// Evaluations is the number of cycles run so far.
func (e *Engine) Evaluations() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.evals
}
