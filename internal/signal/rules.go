package signal

import (
	"fmt"
	"time"

	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

// Input is everything a rule may look at for one cycle. The gate and
// velocity flags are filled in by the Resolver before the rules run.
type Input struct {
	Now       time.Time
	Sentiment models.Sentiment
	Score     series.Optional[float64]
	Straddle  models.StraddleTrend
	Trap      models.TrapVerdict
	Market    models.Direction
	Velocity  float64
	PCR       float64
	CESymbol  string
	PESymbol  string

	AllowCall     bool
	AllowPut      bool
	CallConfirmed bool
	PutConfirmed  bool
	Squeeze       bool
}

// Rule maps a predicate to an outcome.
type Rule struct {
	Name string
	When func(Input) bool
	Then models.Signal
	Text func(Input) string
}

// Decision is the outcome of the first matching rule.
type Decision struct {
	Signal     models.Signal `json:"signal"`
	Rule       string        `json:"rule"`
	Suggestion string        `json:"suggestion"`
}

// Rules is the decision table in priority order.
var Rules = []Rule{
	{
		Name: "decay",
		When: func(in Input) bool { return in.Straddle == models.Falling },
		Then: models.SignalWait,
		Text: func(in Input) string {
			return "STRADDLE DECAYING: premiums bleeding, stay flat"
		},
	},
	{
		Name: "squeeze_override",
		When: func(in Input) bool { return in.Squeeze },
		Then: models.SignalBuyCall,
		Text: func(in Input) string {
			return fmt.Sprintf("SHORT SQUEEZE (score %.1f, vel %.2f): BUY %s", in.Score.Or(0), in.Velocity, leg(in.CESymbol, models.Call))
		},
	},
	{
		Name: "trap",
		When: func(in Input) bool { return in.Trap != models.NoTrap },
		Then: models.SignalTrap,
		Text: func(in Input) string {
			if in.Trap == models.BullTrap {
				return fmt.Sprintf("BULL TRAP: PCR %.2f low, price rising into call writing. Avoid %s", in.PCR, leg(in.CESymbol, models.Call))
			}
			return fmt.Sprintf("BEAR TRAP: PCR %.2f high, price falling into put writing. Avoid %s", in.PCR, leg(in.PESymbol, models.Put))
		},
	},
	{
		Name: "momentum_call",
		When: func(in Input) bool {
			return in.Sentiment == models.Bullish && in.Straddle == models.Rising && in.AllowCall && in.CallConfirmed
		},
		Then: models.SignalBuyCall,
		Text: func(in Input) string {
			return fmt.Sprintf("MOMENTUM UP (vel %.2f): BUY %s", in.Velocity, leg(in.CESymbol, models.Call))
		},
	},
	{
		Name: "momentum_put",
		When: func(in Input) bool {
			return in.Sentiment == models.Bearish && in.Straddle == models.Rising && in.AllowPut && in.PutConfirmed
		},
		Then: models.SignalBuyPut,
		Text: func(in Input) string {
			return fmt.Sprintf("MOMENTUM DOWN (vel %.2f): BUY %s", in.Velocity, leg(in.PESymbol, models.Put))
		},
	},
	{
		Name: "session_lock",
		When: func(in Input) bool {
			if in.Straddle != models.Rising {
				return false
			}
			return (in.Sentiment == models.Bullish && in.CallConfirmed && !in.AllowCall) ||
				(in.Sentiment == models.Bearish && in.PutConfirmed && !in.AllowPut)
		},
		Then: models.SignalWait,
		Text: func(in Input) string {
			if in.Sentiment == models.Bullish {
				return fmt.Sprintf("SESSION LOCK: price trend %s, blocking %s (need UP)", in.Market, leg(in.CESymbol, models.Call))
			}
			return fmt.Sprintf("SESSION LOCK: price trend %s, blocking %s (need DOWN)", in.Market, leg(in.PESymbol, models.Put))
		},
	},
	{
		Name: "idle",
		When: func(Input) bool { return true },
		Then: models.SignalWait,
		Text: func(in Input) string {
			switch {
			case in.Sentiment != models.Neutral && in.Straddle == models.Rising:
				return fmt.Sprintf("%s bias, waiting for momentum (vel %.2f)", in.Sentiment, in.Velocity)
			case in.Sentiment != models.Neutral:
				return fmt.Sprintf("%s bias, straddle %s", in.Sentiment, in.Straddle)
			default:
				return "Waiting for setup"
			}
		},
	},
}

// Evaluate returns the outcome of the first rule whose predicate holds. An
// empty table yields WAIT.
func Evaluate(rules []Rule, in Input) Decision {
	for _, r := range rules {
		if r.When(in) {
			return Decision{Signal: r.Then, Rule: r.Name, Suggestion: r.Text(in)}
		}
	}
	return Decision{Signal: models.SignalWait, Rule: "none"}
}

func leg(symbol string, kind models.OptionKind) string {
	if symbol == "" {
		return "ATM " + string(kind)
	}
	return symbol
}
