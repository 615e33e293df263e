package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/markcheno/go-talib"

	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

func TestStraddleIsMeanOfLegs(t *testing.T) {
	legs := [][2]float64{{120, 80}, {150, 150}, {0.05, 310.4}, {99.95, 101.35}}
	for _, l := range legs {
		got, ok := Straddle(series.Some(l[0]), series.Some(l[1])).Get()
		if !ok || got != (l[0]+l[1])/2 {
			t.Fatalf("Straddle(%v, %v) = %v, want %v", l[0], l[1], got, (l[0]+l[1])/2)
		}
	}
	if Straddle(series.Some(120.0), series.None[float64]()).Valid() {
		t.Fatalf("straddle with a missing leg should be absent")
	}
}

func TestVelocity(t *testing.T) {
	r := series.NewRolling[float64](10)
	base := time.Unix(0, 0)
	r.Push(base, 100)
	r.Push(base.Add(2*time.Second), 105)
	if v := Velocity(r); v != 2.5 {
		t.Fatalf("velocity = %v, want 2.5", v)
	}

	r.Push(base.Add(2*time.Second), 107)
	if v := Velocity(r); v != 3.5 {
		t.Fatalf("duplicate timestamps should be skipped, got %v", v)
	}
}

func TestVelocityWithoutTimeDelta(t *testing.T) {
	r := series.NewRolling[float64](10)
	if Velocity(r) != 0 {
		t.Fatalf("empty series should give zero")
	}
	ts := time.Unix(5, 0)
	r.Push(ts, 100)
	r.Push(ts, 110)
	if v := Velocity(r); v != 0 {
		t.Fatalf("zero time delta should give zero, got %v", v)
	}
}

func TestEMASeededWithFirstPrice(t *testing.T) {
	e := NewEMA(3)
	if e.Update(10).Valid() || e.Update(11).Valid() {
		t.Fatalf("EMA reported before period samples")
	}
	v, ok := e.Update(12).Get()
	if !ok || math.Abs(v-11.25) > 1e-12 {
		t.Fatalf("EMA = %v, want 11.25", v)
	}
}

func TestRSIMatchesTalib(t *testing.T) {
	prices := make([]float64, 120)
	for i := range prices {
		prices[i] = 25000 + 40*math.Sin(float64(i)/5) + 0.7*float64(i) + 3*math.Cos(float64(i)*1.7)
	}
	want := talib.Rsi(prices, 14)

	r := NewRSI(14)
	for i, p := range prices {
		got := r.Update(p)
		if i < 14 {
			if got.Valid() {
				t.Fatalf("RSI reported at index %d before 15 prices", i)
			}
			continue
		}
		v, ok := got.Get()
		if !ok {
			t.Fatalf("RSI missing at index %d", i)
		}
		if math.Abs(v-want[i]) > 1e-6 {
			t.Fatalf("RSI[%d] = %v, talib %v", i, v, want[i])
		}
	}
}

func TestRSIWithoutLossesIs100(t *testing.T) {
	r := NewRSI(14)
	var last series.Optional[float64]
	for i := 0; i < 20; i++ {
		last = r.Update(100 + float64(i))
	}
	if v, _ := last.Get(); v != 100 {
		t.Fatalf("RSI = %v, want 100", v)
	}
}

func TestStraddleTrend(t *testing.T) {
	build := func(values ...float64) *series.Rolling[float64] {
		r := series.NewRolling[float64](10)
		for i, v := range values {
			r.Push(time.Unix(int64(i), 0), v)
		}
		return r
	}
	cases := []struct {
		name   string
		values []float64
		want   models.StraddleTrend
	}{
		{"rising", []float64{100, 101, 102, 103}, models.Rising},
		{"falling", []float64{103, 102, 101, 100}, models.Falling},
		{"flat within epsilon", []float64{100, 100, 100, 100.02}, models.Flat},
		{"not enough samples", []float64{100, 110, 120}, models.Flat},
	}
	for _, c := range cases {
		if got := StraddleTrend(build(c.values...), 3, 0.01); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		score series.Optional[float64]
		want  models.Sentiment
	}{
		{series.Some(3.5), models.Bullish},
		{series.Some(3.0), models.Neutral},
		{series.Some(-3.5), models.Bearish},
		{series.None[float64](), models.Neutral},
	}
	for _, c := range cases {
		if got := Classify(c.score, 3, -3); got != c.want {
			t.Errorf("Classify(%+v) = %s, want %s", c.score, got, c.want)
		}
	}
	if got := Classify(series.Some(4.0), 5, -5); got != models.Neutral {
		t.Errorf("wider bands should keep 4 neutral, got %s", got)
	}
}

func testBank() *Bank {
	cfg := config.Default().Engine
	return NewBank(cfg)
}

func TestBankRelativeSentiment(t *testing.T) {
	b := testBank()
	base := time.Unix(1_700_000_000, 0)
	obs := func(i int, ce float64) Observation {
		return Observation{
			Time:       base.Add(time.Duration(i) * time.Second),
			Underlying: series.Some(25000.0),
			Strike:     series.Some(25000),
			CE:         series.Some(ce),
			PE:         series.Some(100.0),
		}
	}

	for i := 0; i < 10; i++ {
		snap := b.Update(obs(i, 100))
		if snap.RelativeSentiment.Valid() {
			t.Fatalf("relative sentiment reported with %d samples", i+1)
		}
		if snap.Sentiment != models.Neutral {
			t.Fatalf("sentiment should be neutral without history")
		}
	}
	snap := b.Update(obs(10, 100))
	if v, ok := snap.RelativeSentiment.Get(); !ok || v != 0 {
		t.Fatalf("expected zero relative sentiment, got %v %v", v, ok)
	}

	snap = b.Update(obs(11, 110))
	if v, _ := snap.SyntheticFuture.Get(); v != 25010 {
		t.Fatalf("synthetic future = %v", v)
	}
	if v, _ := snap.RealBasis.Get(); v != 10 {
		t.Fatalf("real basis = %v", v)
	}
	rel, _ := snap.RelativeSentiment.Get()
	if math.Abs(rel-(10-10.0/12)) > 1e-9 {
		t.Fatalf("relative sentiment = %v", rel)
	}
	if snap.Sentiment != models.Bullish {
		t.Fatalf("sentiment = %s, want BULLISH", snap.Sentiment)
	}
}

func TestBankSentimentWindowDropsOldBasis(t *testing.T) {
	b := testBank()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 12; i++ {
		b.Update(Observation{
			Time:       base.Add(time.Duration(i) * time.Second),
			Underlying: series.Some(25000.0),
			Strike:     series.Some(25000),
			CE:         series.Some(150.0),
			PE:         series.Some(100.0),
		})
	}
	snap := b.Update(Observation{
		Time:       base.Add(10 * time.Minute),
		Underlying: series.Some(25000.0),
		Strike:     series.Some(25000),
		CE:         series.Some(150.0),
		PE:         series.Some(100.0),
	})
	if snap.RelativeSentiment.Valid() {
		t.Fatalf("stale basis samples should not count toward the window")
	}
}

func TestBankStraddleForwardFill(t *testing.T) {
	b := testBank()
	base := time.Unix(1_700_000_000, 0)
	b.Update(Observation{Time: base, Underlying: series.Some(25000.0), CE: series.Some(120.0), PE: series.Some(80.0)})

	snap := b.Update(Observation{Time: base.Add(time.Second), Underlying: series.Some(25001.0), CE: series.Some(121.0)})
	if v, ok := snap.StraddlePrice.Get(); !ok || v != 100 {
		t.Fatalf("straddle should forward-fill to 100, got %v %v", v, ok)
	}
	if snap.SyntheticFuture.Valid() {
		t.Fatalf("synthetic future needs both legs and a strike")
	}

	b.ResetStraddle()
	snap = b.Update(Observation{Time: base.Add(2 * time.Second), Underlying: series.Some(25002.0)})
	if snap.StraddlePrice.Valid() {
		t.Fatalf("straddle should be absent after reset")
	}
}

func TestBankStraddleTrendAndVelocity(t *testing.T) {
	b := testBank()
	base := time.Unix(1_700_000_000, 0)
	var snap Snapshot
	for i := 0; i < 6; i++ {
		snap = b.Update(Observation{
			Time:       base.Add(time.Duration(i) * time.Second),
			Underlying: series.Some(25000 + float64(i)),
			CE:         series.Some(100 + float64(i)),
			PE:         series.Some(100.0),
		})
	}
	if snap.StraddleTrend != models.Rising {
		t.Fatalf("trend = %s, want RISING", snap.StraddleTrend)
	}
	if snap.Velocity != 1 {
		t.Fatalf("velocity = %v, want 1", snap.Velocity)
	}
	if b.Latest().StraddleTrend != models.Rising {
		t.Fatalf("Latest should return the last snapshot")
	}
}

func TestBankVelocityFollowsTickTimes(t *testing.T) {
	b := testBank()
	base := time.Unix(1_700_000_000, 0)
	update := func(evalSec, tickSec int, price float64) Snapshot {
		return b.Update(Observation{
			Time:           base.Add(time.Duration(evalSec) * time.Second),
			Underlying:     series.Some(price),
			UnderlyingTime: base.Add(time.Duration(tickSec) * time.Second),
		})
	}

	update(0, 0, 100)
	if snap := update(1, 0, 100); snap.Velocity != 0 {
		t.Fatalf("repeated tick should not produce velocity, got %v", snap.Velocity)
	}
	if snap := update(2, 2, 105); snap.Velocity != 2.5 {
		t.Fatalf("velocity = %v, want 2.5", snap.Velocity)
	}
	if snap := update(3, 2, 105); snap.Velocity != 2.5 {
		t.Fatalf("velocity should hold between ticks, got %v", snap.Velocity)
	}
}

func TestBankSentimentWindowCoversSubSecondCadence(t *testing.T) {
	cfg := config.Default().Engine
	cfg.Cadence = 500 * time.Millisecond
	b := NewBank(cfg)
	base := time.Unix(1_700_000_000, 0)

	var snap Snapshot
	for i := 0; i < 600; i++ {
		ce := 110.0
		if i >= 300 {
			ce = 100
		}
		snap = b.Update(Observation{
			Time:       base.Add(time.Duration(i) * cfg.Cadence),
			Underlying: series.Some(25000.0),
			Strike:     series.Some(25000),
			CE:         series.Some(ce),
			PE:         series.Some(100.0),
		})
	}
	rel, ok := snap.RelativeSentiment.Get()
	if !ok || math.Abs(rel-(-5)) > 1e-9 {
		t.Fatalf("relative sentiment = %v %v, want -5 over the full window", rel, ok)
	}
	if snap.Sentiment != models.Bearish {
		t.Fatalf("sentiment = %s, want BEARISH", snap.Sentiment)
	}
}
