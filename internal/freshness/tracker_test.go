package freshness

import (
	"math"
	"testing"
	"time"

	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

func newTracker() *Tracker {
	return NewTracker(config.Default().Engine.Freshness)
}

func TestObserveAndAge(t *testing.T) {
	tr := newTracker()
	base := time.Unix(1_700_000_000, 0)

	if tr.Age(models.SourceOI, base).Valid() {
		t.Fatalf("unobserved source should have no age")
	}
	if gap := tr.Observe(models.SourceOI, base); gap != 0 {
		t.Fatalf("first observation gap = %v", gap)
	}
	if gap := tr.Observe(models.SourceOI, base.Add(10*time.Second)); gap != 10*time.Second {
		t.Fatalf("gap = %v, want 10s", gap)
	}

	age, _ := tr.Age(models.SourceOI, base.Add(25*time.Second)).Get()
	if age != 15 {
		t.Fatalf("age = %v, want 15", age)
	}
}

func TestAgeKeepsGrowingWithoutObservations(t *testing.T) {
	tr := newTracker()
	base := time.Unix(1_700_000_000, 0)
	tr.Observe(models.SourceCall, base)

	var prev float64 = -1
	for i := 1; i <= 5; i++ {
		age, _ := tr.Age(models.SourceCall, base.Add(time.Duration(i)*10*time.Second)).Get()
		if age <= prev {
			t.Fatalf("age did not grow: %v after %v", age, prev)
		}
		prev = age
	}
}

func TestLevel(t *testing.T) {
	tr := newTracker()
	cases := []struct {
		age  series.Optional[float64]
		want models.FreshnessLevel
	}{
		{series.Some(0.0), models.Fresh},
		{series.Some(14.9), models.Fresh},
		{series.Some(15.0), models.Moderate},
		{series.Some(29.9), models.Moderate},
		{series.Some(30.0), models.Stale},
		{series.None[float64](), models.Stale},
	}
	for _, c := range cases {
		if got := tr.Level(c.age); got != c.want {
			t.Errorf("Level(%+v) = %s, want %s", c.age, got, c.want)
		}
	}
}

func TestReportCoversAllSources(t *testing.T) {
	tr := newTracker()
	now := time.Unix(1_700_000_000, 0)
	tr.Observe(models.SourceSpot, now.Add(-20*time.Second))

	report := tr.Report(now)
	if len(report) != len(models.Sources) {
		t.Fatalf("report has %d sources", len(report))
	}
	if report[models.SourceSpot].Level != models.Moderate {
		t.Fatalf("spot level = %s", report[models.SourceSpot].Level)
	}
	if report[models.SourcePut].Level != models.Stale {
		t.Fatalf("unseen source should be stale")
	}

	tr.Forget(models.SourceSpot)
	if _, ok := tr.LastSeen(models.SourceSpot); ok {
		t.Fatalf("Forget did not drop the source")
	}
}

func TestLatencySmoothing(t *testing.T) {
	tr := newTracker()
	tr.RecordLatency(100 * time.Millisecond)
	if tr.LatencyMS() != 100 {
		t.Fatalf("first latency = %v", tr.LatencyMS())
	}
	tr.RecordLatency(200 * time.Millisecond)
	if math.Abs(tr.LatencyMS()-130) > 1e-9 {
		t.Fatalf("smoothed latency = %v, want 130", tr.LatencyMS())
	}
}
