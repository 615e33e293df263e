// Package signal turns indicator state into one discrete trade signal. The
// precedence lives in the Rules table; the Resolver only derives the gate and
// velocity flags the rules read.
package signal

import (
	"scalpflow/config"
	"scalpflow/internal/models"
)

type Resolver struct {
	rules        []Rule
	gate         *SafetyGate
	confirm      bool
	threshold    float64
	squeeze      bool
	squeezeScore float64
}

func NewResolver(cfg config.EngineConfig, gate *SafetyGate) *Resolver {
	return &Resolver{
		rules:        Rules,
		gate:         gate,
		confirm:      cfg.Velocity.Confirm,
		threshold:    cfg.Velocity.Threshold,
		squeeze:      cfg.Trap.SqueezeOverride,
		squeezeScore: cfg.Trap.SqueezeScore,
	}
}

// Resolve fills the derived flags of in and runs the rule table.
func (r *Resolver) Resolve(in Input) Decision {
	in = r.prepare(in)
	return Evaluate(r.rules, in)
}

func (r *Resolver) prepare(in Input) Input {
	in.AllowCall, in.AllowPut = true, true
	if r.gate != nil {
		in.AllowCall = r.gate.Allow(models.SignalBuyCall, in.Market, in.Now)
		in.AllowPut = r.gate.Allow(models.SignalBuyPut, in.Market, in.Now)
	}

	in.CallConfirmed = !r.confirm || in.Velocity > r.threshold
	in.PutConfirmed = !r.confirm || in.Velocity < -r.threshold

	score, ok := in.Score.Get()
	in.Squeeze = r.squeeze && in.Trap == models.BullTrap && ok &&
		score > r.squeezeScore && in.Velocity > r.threshold
	return in
}
