// Package sim generates synthetic market ticks for one of a fixed set of
// scenarios. It stands in for the broker feed in simulate mode.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	appconfig "scalpflow/config"
	"scalpflow/internal/channel/tick"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/internal/reader"
	"scalpflow/internal/series"
	"scalpflow/logger"
)

const (
	// trapCycle is the length of one rise-then-fade trap pattern in steps.
	trapCycle = 300
	// oiEvery is how many steps pass between PCR updates.
	oiEvery = 10
	// basePremium is the starting price of each option leg.
	basePremium = 150.0
)

type market struct {
	step    int
	spot    float64
	future  float64
	ce      float64
	pe      float64
	deltaCE float64
	deltaPE float64
	pcr     float64
}

// Simulator produces spot, future, option and PCR ticks on a fixed interval.
type Simulator struct {
	config   *appconfig.Config
	channels *tick.Channels
	tokens   *reader.TokenSet
	scenario Scenario
	regime   Regime
	rng      *rand.Rand
	state    market
	stateMu  sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
	now     func() time.Time
}

// NewSimulator validates the scenario and regime from config.
func NewSimulator(cfg *appconfig.Config, ch *tick.Channels, tokens *reader.TokenSet) (*Simulator, error) {
	sc := cfg.Source.Simulate
	scenario, err := ParseScenario(sc.Scenario)
	if err != nil {
		return nil, fmt.Errorf("source.simulate.scenario: %w", err)
	}
	regime, err := ParseRegime(sc.Regime)
	if err != nil {
		return nil, fmt.Errorf("source.simulate.regime: %w", err)
	}
	seed := sc.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	spot := sc.Spot
	if spot <= 0 {
		spot = 25000
	}

	return &Simulator{
		config:   cfg,
		channels: ch,
		tokens:   tokens,
		scenario: scenario,
		regime:   regime,
		rng:      rand.New(rand.NewSource(seed)),
		state: market{
			spot:    spot,
			future:  spot + 50,
			ce:      basePremium * regime.Premium,
			pe:      basePremium * regime.Premium,
			deltaCE: 0.5,
			deltaPE: -0.5,
			pcr:     1,
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
		now: time.Now,
	}, nil
}

// Start launches the tick generator.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("simulator already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	every := s.config.Source.Simulate.Interval
	if every <= 0 {
		every = 100 * time.Millisecond
	}

	s.wg.Add(1)
	go s.run(every)

	s.log.WithComponent("simulator").WithFields(logger.Fields{
		"scenario": s.scenario,
		"regime":   s.regime.Name,
		"vix":      s.regime.VIX,
		"interval": every.String(),
	}).Info("simulator started")
	return nil
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.WithComponent("simulator").Info("simulator stopped")
}

// UpdateContracts tracks the engine's new legs.
func (s *Simulator) UpdateContracts(legs models.Legs) {
	s.tokens.Update(legs)
}

func (s *Simulator) run(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, t := range s.Step(s.now()) {
				if !s.channels.SendTick(s.ctx, t) && s.ctx.Err() == nil {
					metrics.EmitDropMetric(s.log, metrics.DropMetricTick, string(t.Source), t.Symbol, "simulate")
				}
			}
		}
	}
}

// Step advances the market by one tick and returns the resulting quotes.
func (s *Simulator) Step(now time.Time) []models.Tick {
	s.stateMu.Lock()
	s.advance()
	m := s.state
	s.stateMu.Unlock()

	ticks := make([]models.Tick, 0, 5)
	spot := s.tokens.Spot()
	ticks = append(ticks, s.quote(spot, m.spot, now))
	if in, ok := s.tokens.Leg(models.SourceFuture); ok {
		ticks = append(ticks, s.quote(in, m.future, now))
	}
	if in, ok := s.tokens.Leg(models.SourceCall); ok {
		ticks = append(ticks, s.quote(in, m.ce, now))
	}
	if in, ok := s.tokens.Leg(models.SourcePut); ok {
		ticks = append(ticks, s.quote(in, m.pe, now))
	}
	if m.step%oiEvery == 0 {
		ticks = append(ticks, models.Tick{
			Source:    models.SourceOI,
			Symbol:    "PCR",
			Ratio:     series.Some(math.Round(m.pcr*100) / 100),
			Timestamp: now,
			Received:  now,
		})
	}
	return ticks
}

func (s *Simulator) quote(in reader.Instrument, price float64, now time.Time) models.Tick {
	return models.Tick{
		Source:    in.Source,
		Symbol:    in.Symbol,
		Token:     in.Token,
		Price:     math.Round(price*100) / 100,
		Timestamp: now,
		Received:  now,
	}
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *Simulator) advance() {
	m := &s.state
	vol := s.regime.Volatility
	phase := m.step % trapCycle
	rising := phase < trapCycle*7/10
	m.step++

	move := 0.0
	noise := s.uniform(-2, 2) * vol
	switch s.scenario {
	case ScenarioBullRun:
		move = s.uniform(0.5, 1.5) * vol
		noise = s.uniform(-0.5, 0.5)
	case ScenarioBearCrash:
		move = s.uniform(-2, -0.8) * vol
		noise = s.uniform(-1, 1)
	case ScenarioSideways:
		move = s.uniform(-1, 1) * 0.5
		noise = s.uniform(-0.5, 0.5)
	case ScenarioBullTrap:
		if rising {
			move = s.uniform(1, 3)
		} else {
			move = s.uniform(-2, 0)
		}
	case ScenarioBearTrap:
		if rising {
			move = s.uniform(-3, -1)
		} else {
			move = s.uniform(0, 2)
		}
	}
	m.spot += move + noise

	basis := 50 * vol
	switch s.scenario {
	case ScenarioBullRun:
		basis = (50 + s.uniform(20, 50)) * vol
	case ScenarioBearCrash:
		basis = (10 - s.uniform(0, 30)) * vol
	}
	m.future = m.spot + basis + s.uniform(-2, 2)

	// delta drift stands in for gamma
	if move > 0 {
		m.deltaCE = math.Min(0.9, m.deltaCE+0.01)
		m.deltaPE = math.Min(-0.1, m.deltaPE+0.01)
	} else {
		m.deltaCE = math.Max(0.1, m.deltaCE-0.01)
		m.deltaPE = math.Max(-0.9, m.deltaPE-0.01)
	}
	decay := 0.1 * s.regime.Decay
	m.ce = math.Max(0.05, m.ce+move*m.deltaCE-decay)
	m.pe = math.Max(0.05, m.pe+move*m.deltaPE-decay)

	switch s.scenario {
	case ScenarioBullTrap:
		m.pcr = 0.5
	case ScenarioBearTrap:
		m.pcr = 1.5
	case ScenarioBullRun:
		m.pcr = math.Min(2.5, math.Max(m.pcr, 1.3)+0.01)
	case ScenarioBearCrash:
		m.pcr = math.Max(0.4, math.Min(m.pcr, 0.6)-0.01)
	default:
		m.pcr = 1 + s.uniform(-0.1, 0.1)
	}
}
