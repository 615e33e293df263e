package sim

import (
	"fmt"
	"strings"
)

// Scenario selects the price path the simulator follows.
type Scenario string

const (
	ScenarioNormal    Scenario = "NORMAL"
	ScenarioBullRun   Scenario = "BULL_RUN"
	ScenarioBearCrash Scenario = "BEAR_CRASH"
	ScenarioSideways  Scenario = "SIDEWAYS"
	ScenarioBullTrap  Scenario = "BULL_TRAP"
	ScenarioBearTrap  Scenario = "BEAR_TRAP"
)

func ParseScenario(s string) (Scenario, error) {
	switch sc := Scenario(strings.ToUpper(strings.TrimSpace(s))); sc {
	case "":
		return ScenarioNormal, nil
	case ScenarioNormal, ScenarioBullRun, ScenarioBearCrash, ScenarioSideways, ScenarioBullTrap, ScenarioBearTrap:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown scenario %q", s)
	}
}

// Regime scales volatility, option premium and decay.
type Regime struct {
	Name       string
	VIX        float64
	Volatility float64
	Premium    float64
	Decay      float64
}

var regimes = map[string]Regime{
	"NORMAL":            {Name: "NORMAL", VIX: 14, Volatility: 1, Premium: 1, Decay: 1},
	"HIGH_VIX":          {Name: "HIGH_VIX", VIX: 24, Volatility: 2.5, Premium: 1.8, Decay: 0.5},
	"LOW_VIX":           {Name: "LOW_VIX", VIX: 11, Volatility: 0.4, Premium: 0.6, Decay: 2},
	"BUDGET_VOLATILITY": {Name: "BUDGET_VOLATILITY", VIX: 35, Volatility: 4.5, Premium: 2.5, Decay: 0.2},
}

func ParseRegime(s string) (Regime, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		name = "NORMAL"
	}
	r, ok := regimes[name]
	if !ok {
		return Regime{}, fmt.Errorf("unknown regime %q", s)
	}
	return r, nil
}
