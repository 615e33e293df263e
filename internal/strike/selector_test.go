package strike

import (
	"math"
	"testing"
	"time"
)

func TestNearest(t *testing.T) {
	cases := []struct {
		price float64
		step  int
		want  int
		ok    bool
	}{
		{25012, 50, 25000, true},
		{25025, 50, 25050, true},
		{25074.9, 50, 25050, true},
		{24976, 100, 25000, true},
		{0, 50, 0, false},
		{math.NaN(), 50, 0, false},
		{25000, 0, 0, false},
	}
	for _, c := range cases {
		got, ok := Nearest(c.price, c.step)
		if got != c.want || ok != c.ok {
			t.Errorf("Nearest(%v, %d) = %d, %v; want %d, %v", c.price, c.step, got, ok, c.want, c.ok)
		}
	}
}

func TestSelectAdoptsFirstStrike(t *testing.T) {
	s := NewSelector(40, 0)
	now := time.Unix(100, 0)
	st := s.Select(25012, 50, now)
	if st.Active != 25000 || !st.Switched || !st.Resolved {
		t.Fatalf("unexpected first state: %+v", st)
	}
	if !st.LastSwitch.Equal(now) {
		t.Fatalf("switch time not recorded")
	}
}

func TestSelectIgnoresNoiseInsideBand(t *testing.T) {
	s := NewSelector(40, 0)
	base := time.Unix(0, 0)
	s.Select(25000, 50, base)

	prices := []float64{25024, 25026, 24976, 25039, 24961, 25030, 24970, 25040, 24960}
	for i, p := range prices {
		st := s.Select(p, 50, base.Add(time.Duration(i+1)*time.Second))
		if st.Active != 25000 || st.Switched {
			t.Fatalf("price %v moved strike to %d", p, st.Active)
		}
	}
	if !s.State().LastSwitch.Equal(base) {
		t.Fatalf("last switch time changed under noise")
	}
}

func TestSelectSwitchesBeyondBand(t *testing.T) {
	s := NewSelector(40, 0)
	base := time.Unix(0, 0)
	s.Select(25000, 50, base)

	st := s.Select(25041, 50, base.Add(time.Second))
	if st.Active != 25050 || !st.Switched {
		t.Fatalf("expected switch to 25050, got %+v", st)
	}

	st = s.Select(25020, 50, base.Add(2*time.Second))
	if st.Active != 25050 || st.Switched {
		t.Fatalf("switch back inside band: %+v", st)
	}

	st = s.Select(24900, 50, base.Add(3*time.Second))
	if st.Active != 24900 {
		t.Fatalf("expected large drop to switch to 24900, got %d", st.Active)
	}
}

func TestSelectRequiresConfirmDwell(t *testing.T) {
	s := NewSelector(40, 2*time.Second)
	base := time.Unix(0, 0)
	s.Select(25000, 50, base)

	st := s.Select(25060, 50, base.Add(time.Second))
	if st.Active != 25000 || st.Candidate != 25050 {
		t.Fatalf("candidate not tracked: %+v", st)
	}
	st = s.Select(25060, 50, base.Add(2*time.Second))
	if st.Active != 25000 {
		t.Fatalf("switched before dwell elapsed")
	}
	st = s.Select(25060, 50, base.Add(3*time.Second))
	if st.Active != 25050 || !st.Switched {
		t.Fatalf("expected confirmed switch: %+v", st)
	}
}

func TestSelectCandidateClearedWhenPriceReturns(t *testing.T) {
	s := NewSelector(40, 2*time.Second)
	base := time.Unix(0, 0)
	s.Select(25000, 50, base)
	s.Select(25060, 50, base.Add(time.Second))
	s.Select(25010, 50, base.Add(2*time.Second))

	st := s.Select(25060, 50, base.Add(3*time.Second))
	if st.Active != 25000 {
		t.Fatalf("dwell should restart after price re-entered the band")
	}
}

func TestSelectInvalidPriceKeepsState(t *testing.T) {
	s := NewSelector(40, 0)
	s.Select(25000, 50, time.Unix(0, 0))

	st := s.Select(math.NaN(), 50, time.Unix(1, 0))
	if st.Resolved || st.Active != 25000 {
		t.Fatalf("unexpected state for invalid price: %+v", st)
	}
	if fresh := NewSelector(40, 0).Select(0, 50, time.Unix(0, 0)); fresh.Resolved || fresh.HasActive() {
		t.Fatalf("no strike should be adopted without a price: %+v", fresh)
	}
}

func TestRestore(t *testing.T) {
	s := NewSelector(40, 0)
	prev := s.Select(25000, 50, time.Unix(0, 0))
	s.Select(25100, 50, time.Unix(1, 0))
	s.Restore(prev)

	if st := s.State(); st.Active != 25000 || st.Switched || !st.HasActive() {
		t.Fatalf("restore failed: %+v", st)
	}
}

func TestSelectAdoptsWithZeroTime(t *testing.T) {
	s := NewSelector(40, 0)
	st := s.Select(25012, 50, time.Time{})
	if !st.HasActive() || st.Active != 25000 || !st.Switched {
		t.Fatalf("strike not adopted: %+v", st)
	}
	st = s.Select(25020, 50, time.Time{})
	if st.Switched || st.Active != 25000 {
		t.Fatalf("second select should keep the adopted strike: %+v", st)
	}
}
