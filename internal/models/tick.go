package models

import (
	"time"

	"scalpflow/internal/series"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// SOURCES ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Source identifies which instrument a tick belongs to.
type Source string

const (
	SourceSpot    Source = "SPOT"
	SourceFuture  Source = "FUTURE"
	SourceCall    Source = "CALL"
	SourcePut     Source = "PUT"
	SourceOI      Source = "OI"
	SourceUnknown Source = "UNKNOWN"
)

// Sources lists every tracked source in display order.
var Sources = []Source{SourceSpot, SourceFuture, SourceCall, SourcePut, SourceOI}

// ParseSource maps a loose broker label to a Source.
func ParseSource(s string) Source {
	switch Source(s) {
	case SourceSpot, SourceFuture, SourceCall, SourcePut, SourceOI:
		return Source(s)
	}
	switch s {
	case "spot", "index", "INDEX":
		return SourceSpot
	case "future", "fut", "FUT":
		return SourceFuture
	case "call", "ce", "CE":
		return SourceCall
	case "put", "pe", "PE":
		return SourcePut
	case "oi", "pcr", "PCR":
		return SourceOI
	}
	return SourceUnknown
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// TICKS ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Tick is a single decoded observation. Price carries the last traded price
// for SPOT, FUTURE, CALL and PUT ticks. OI ticks carry the put/call ratio in
// Ratio and leave Price at zero.
type Tick struct {
	Source    Source                   `json:"source"`
	Symbol    string                   `json:"symbol,omitempty"`
	Token     string                   `json:"token,omitempty"`
	Price     float64                  `json:"price"`
	Ratio     series.Optional[float64] `json:"ratio"`
	Timestamp time.Time                `json:"timestamp"`
	Received  time.Time                `json:"received"`
}

// Latency is the delay between the exchange timestamp and local receipt.
// Unknown or negative delays report zero.
func (t Tick) Latency() time.Duration {
	if t.Timestamp.IsZero() || t.Received.IsZero() {
		return 0
	}
	d := t.Received.Sub(t.Timestamp)
	if d < 0 {
		return 0
	}
	return d
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// CONTRACTS /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// OptionKind is the option leg type.
type OptionKind string

const (
	Call OptionKind = "CE"
	Put  OptionKind = "PE"
)

// Source returns the tick source quoting this leg.
func (k OptionKind) Source() Source {
	if k == Put {
		return SourcePut
	}
	return SourceCall
}

// Contract is a tradable instrument resolved from the instrument master.
// Option is empty for futures.
type Contract struct {
	Symbol   string     `json:"symbol"`
	Token    string     `json:"token"`
	Exchange string     `json:"exchange"`
	Strike   int        `json:"strike,omitempty"`
	Option   OptionKind `json:"option,omitempty"`
	Expiry   time.Time  `json:"expiry"`
}

// IsZero reports whether the contract is unset.
func (c Contract) IsZero() bool {
	return c.Symbol == "" && c.Token == ""
}

// Legs is the set of contracts currently tracked by the engine.
type Legs struct {
	Strike int      `json:"strike"`
	Call   Contract `json:"call"`
	Put    Contract `json:"put"`
	Future Contract `json:"future"`
}
