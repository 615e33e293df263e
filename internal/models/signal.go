package models

import (
	"time"

	"scalpflow/internal/series"
)

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// ENUMS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

type Signal string

const (
	SignalWait    Signal = "WAIT"
	SignalBuyCall Signal = "BUY_CALL"
	SignalBuyPut  Signal = "BUY_PUT"
	SignalTrap    Signal = "TRAP"
)

// Actionable reports whether the signal asks for a trade.
func (s Signal) Actionable() bool {
	return s == SignalBuyCall || s == SignalBuyPut
}

type Sentiment string

const (
	Bullish Sentiment = "BULLISH"
	Bearish Sentiment = "BEARISH"
	Neutral Sentiment = "NEUTRAL"
)

// StraddleTrend is the short-term direction of the straddle premium.
type StraddleTrend string

const (
	Rising  StraddleTrend = "RISING"
	Falling StraddleTrend = "FALLING"
	Flat    StraddleTrend = "FLAT"
)

// Direction is the prevailing trend of the underlying.
type Direction string

const (
	Up       Direction = "UP"
	Down     Direction = "DOWN"
	Sideways Direction = "SIDEWAYS"
)

type TrapVerdict string

const (
	NoTrap   TrapVerdict = "NONE"
	BullTrap TrapVerdict = "BULL_TRAP"
	BearTrap TrapVerdict = "BEAR_TRAP"
)

type MarketStatus string

const (
	StatusLive         MarketStatus = "LIVE"
	StatusAwaitingData MarketStatus = "AWAITING_DATA"
	StatusNoContracts  MarketStatus = "NO_CONTRACTS"
)

// FreshnessLevel classifies the age of an input.
type FreshnessLevel string

const (
	Fresh    FreshnessLevel = "FRESH"
	Moderate FreshnessLevel = "MODERATE"
	Stale    FreshnessLevel = "STALE"
)

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// RECORDS //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// HistoryPoint is one straddle sample served to the presentation layer.
type HistoryPoint struct {
	Time     time.Time `json:"time"`
	Straddle float64   `json:"straddle"`
}

// FreshnessInfo is the age of one input source.
type FreshnessInfo struct {
	AgeSeconds series.Optional[float64] `json:"age_seconds"`
	Level      FreshnessLevel           `json:"level"`
}

// SignalRecord is produced once per evaluation cycle and never mutated
// afterwards.
type SignalRecord struct {
	Timestamp    time.Time    `json:"timestamp"`
	MarketStatus MarketStatus `json:"market_status"`

	LastPrice   series.Optional[float64] `json:"last_price"`
	FuturePrice series.Optional[float64] `json:"future_price"`
	RSI         series.Optional[float64] `json:"rsi"`
	EMA         series.Optional[float64] `json:"ema"`

	Signal      Signal        `json:"signal"`
	Rule        string        `json:"rule"`
	Sentiment   Sentiment     `json:"sentiment"`
	Trend       StraddleTrend `json:"trend"`
	MarketTrend Direction     `json:"market_trend"`
	Trap        TrapVerdict   `json:"trap"`

	StraddlePrice     series.Optional[float64] `json:"straddle_price"`
	SyntheticFuture   series.Optional[float64] `json:"synthetic_future"`
	RealBasis         series.Optional[float64] `json:"real_basis"`
	RelativeSentiment series.Optional[float64] `json:"relative_sentiment"`
	Basis             series.Optional[float64] `json:"basis"`
	Velocity          float64                  `json:"velocity"`

	PCRRatio      series.Optional[float64] `json:"pcr_ratio"`
	PCRAgeSeconds series.Optional[float64] `json:"pcr_age_seconds"`
	LatencyMS     float64                  `json:"latency_ms"`

	ATMStrike      series.Optional[int]     `json:"atm_strike"`
	StrikeResolved bool                     `json:"strike_resolved"`
	CESymbol       string                   `json:"ce_symbol"`
	PESymbol       string                   `json:"pe_symbol"`
	CEPrice        series.Optional[float64] `json:"ce_price"`
	PEPrice        series.Optional[float64] `json:"pe_price"`

	Suggestion string                   `json:"suggestion"`
	Freshness  map[Source]FreshnessInfo `json:"freshness"`
	History    []HistoryPoint           `json:"history"`
}

// TradeLog is a journal row written when the signal changes to an
// actionable or trap state.
type TradeLog struct {
	ID         int64     `json:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SpotPrice  float64   `json:"spot_price"`
	Basis      float64   `json:"basis"`
	PCR        float64   `json:"pcr"`
	Signal     Signal    `json:"signal"`
	TrapReason string    `json:"trap_reason"`
	CESymbol   string    `json:"ce_symbol"`
	PESymbol   string    `json:"pe_symbol"`
	CEPrice    float64   `json:"ce_price"`
	PEPrice    float64   `json:"pe_price"`
}

// NewTradeLog derives a journal row from a record.
func NewTradeLog(rec SignalRecord) TradeLog {
	trap := ""
	if rec.Trap != NoTrap {
		trap = string(rec.Trap)
	}
	return TradeLog{
		Timestamp:  rec.Timestamp,
		SpotPrice:  rec.LastPrice.Or(0),
		Basis:      rec.RealBasis.Or(0),
		PCR:        rec.PCRRatio.Or(0),
		Signal:     rec.Signal,
		TrapReason: trap,
		CESymbol:   rec.CESymbol,
		PESymbol:   rec.PESymbol,
		CEPrice:    rec.CEPrice.Or(0),
		PEPrice:    rec.PEPrice.Or(0),
	}
}
