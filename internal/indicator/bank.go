// Package indicator derives the rolling indicators that feed the signal
// rules. A Bank is not safe for concurrent use; the engine owns it behind its
// lock.
package indicator

import (
	"time"

	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

// Observation is one evaluation cycle's inputs. Leg premiums are expected to
// be forward-filled by the caller already. UnderlyingTime is the timestamp of
// the tick that set Underlying; when zero, Time is used instead.
type Observation struct {
	Time           time.Time
	Underlying     series.Optional[float64]
	UnderlyingTime time.Time
	Strike         series.Optional[int]
	CE             series.Optional[float64]
	PE             series.Optional[float64]
}

// Snapshot is the latest indicator state.
type Snapshot struct {
	Underlying        series.Optional[float64] `json:"underlying"`
	EMA               series.Optional[float64] `json:"ema"`
	RSI               series.Optional[float64] `json:"rsi"`
	SyntheticFuture   series.Optional[float64] `json:"synthetic_future"`
	RealBasis         series.Optional[float64] `json:"real_basis"`
	RelativeSentiment series.Optional[float64] `json:"relative_sentiment"`
	Sentiment         models.Sentiment         `json:"sentiment"`
	StraddlePrice     series.Optional[float64] `json:"straddle_price"`
	StraddleTrend     models.StraddleTrend     `json:"straddle_trend"`
	Velocity          float64                  `json:"velocity_pts_per_sec"`
}

type Bank struct {
	ind  config.IndicatorsConfig
	sent config.SentimentConfig

	ema *EMA
	rsi *RSI
	// samples holds underlying prices stamped with their tick time, one
	// point per distinct tick
	samples *series.Rolling[float64]
	basis   *series.Rolling[float64]

	straddles    *series.Rolling[float64]
	lastStraddle series.Optional[float64]

	latest Snapshot
}

func NewBank(cfg config.EngineConfig) *Bank {
	return &Bank{
		ind:       cfg.Indicators,
		sent:      cfg.Sentiment,
		ema:       NewEMA(cfg.Indicators.EMAPeriod),
		rsi:       NewRSI(cfg.Indicators.RSIPeriod),
		samples:   series.NewRolling[float64](cfg.Indicators.PriceCapacity),
		basis:     series.NewRolling[float64](cfg.Sentiment.BasisCapacity(cfg.Cadence)),
		straddles: series.NewRolling[float64](cfg.Indicators.PriceCapacity),
		latest:    Snapshot{Sentiment: models.Neutral, StraddleTrend: models.Flat},
	}
}

// Update folds one observation into the rolling state and returns the new
// snapshot. Missing inputs leave the dependent indicators absent.
func (b *Bank) Update(obs Observation) Snapshot {
	snap := Snapshot{
		Underlying:    obs.Underlying,
		EMA:           b.ema.Value(),
		RSI:           b.rsi.Value(),
		Sentiment:     models.Neutral,
		StraddleTrend: models.Flat,
	}

	if price, ok := obs.Underlying.Get(); ok {
		at := obs.UnderlyingTime
		if at.IsZero() {
			at = obs.Time
		}
		b.observeSample(at, price)
		snap.EMA = b.ema.Update(price)
		snap.RSI = b.rsi.Update(price)
	}
	snap.Velocity = Velocity(b.samples)

	strike, okStrike := obs.Strike.Get()
	ce, okCE := obs.CE.Get()
	pe, okPE := obs.PE.Get()
	if okStrike && okCE && okPE {
		synthetic := float64(strike) + ce - pe
		snap.SyntheticFuture = series.Some(synthetic)
		if price, ok := obs.Underlying.Get(); ok {
			basis := synthetic - price
			snap.RealBasis = series.Some(basis)
			b.basis.Push(obs.Time, basis)
			snap.RelativeSentiment = relativeBasis(b.basis, obs.Time, b.sent.Window, b.sent.MinSamples)
		}
	}
	snap.Sentiment = Classify(snap.RelativeSentiment, b.sent.Bullish, b.sent.Bearish)

	straddle := series.ForwardFill(Straddle(obs.CE, obs.PE), b.lastStraddle)
	if v, ok := straddle.Get(); ok {
		b.straddles.Push(obs.Time, v)
		b.lastStraddle = straddle
	}
	snap.StraddlePrice = straddle
	snap.StraddleTrend = StraddleTrend(b.straddles, b.ind.StraddleSMA, b.ind.StraddleEpsilon)

	b.latest = snap
	return snap
}

// observeSample records an underlying price at its tick time. A sample at
// the same time as the newest one replaces it. Older samples are ignored, so
// cycles without a new tick leave the velocity unchanged.
func (b *Bank) observeSample(at time.Time, price float64) {
	last, ok := b.samples.Last()
	switch {
	case !ok || at.After(last.Time):
		b.samples.Push(at, price)
	case at.Equal(last.Time):
		b.samples.ReplaceLast(at, price)
	}
}

// ResetStraddle drops straddle history. The engine calls it when the tracked
// strike changes.
func (b *Bank) ResetStraddle() {
	b.straddles.Reset()
	b.lastStraddle = series.None[float64]()
}

// Latest returns the snapshot produced by the last Update.
func (b *Bank) Latest() Snapshot {
	return b.latest
}
