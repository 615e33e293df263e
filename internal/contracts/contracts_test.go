package contracts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scalpflow/config"
	"scalpflow/internal/models"
)

func testCalendar(t *testing.T) *Calendar {
	t.Helper()
	cfg := config.Default()
	cal, err := NewCalendar(cfg.Contracts, cfg.Engine.Safety.Timezone)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

func ist(t *testing.T, cal *Calendar, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	return time.Date(year, month, day, hour, minute, 0, 0, cal.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func TestWeeklyExpiry(t *testing.T) {
	cal := testCalendar(t)
	cases := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"tuesday", ist(t, cal, 2024, time.December, 24, 10, 0), ist(t, cal, 2024, time.December, 26, 0, 0)},
		{"expiry day before cutoff", ist(t, cal, 2024, time.December, 26, 15, 0), ist(t, cal, 2024, time.December, 26, 0, 0)},
		{"expiry day after cutoff", ist(t, cal, 2024, time.December, 26, 16, 0), ist(t, cal, 2025, time.January, 2, 0, 0)},
		{"friday", ist(t, cal, 2024, time.December, 27, 9, 15), ist(t, cal, 2025, time.January, 2, 0, 0)},
	}
	for _, c := range cases {
		if got := cal.WeeklyExpiry(c.at); !sameDate(got, c.want) {
			t.Errorf("%s: WeeklyExpiry = %s, want %s", c.name, got.Format("2006-01-02"), c.want.Format("2006-01-02"))
		}
	}
}

func TestMonthlyExpiry(t *testing.T) {
	cal := testCalendar(t)
	if got := cal.MonthlyExpiry(ist(t, cal, 2024, time.December, 2, 10, 0)); !sameDate(got, ist(t, cal, 2024, time.December, 26, 0, 0)) {
		t.Fatalf("December monthly = %s", got)
	}
	if got := cal.MonthlyExpiry(ist(t, cal, 2024, time.December, 27, 10, 0)); !sameDate(got, ist(t, cal, 2025, time.January, 30, 0, 0)) {
		t.Fatalf("rolled monthly = %s", got)
	}
}

func TestSymbols(t *testing.T) {
	cal := testCalendar(t)
	expiry := ist(t, cal, 2024, time.December, 26, 0, 0)
	if got := OptionSymbol("NIFTY", expiry, 25000, models.Call); got != "NIFTY26DEC2425000CE" {
		t.Fatalf("option symbol = %s", got)
	}
	if got := FutureSymbol("NIFTY", expiry); got != "NIFTY26DEC24FUT" {
		t.Fatalf("future symbol = %s", got)
	}
}

func TestNamingResolver(t *testing.T) {
	cal := testCalendar(t)
	r := NewNamingResolver("NIFTY", "NFO", cal)
	at := ist(t, cal, 2024, time.December, 24, 10, 0)

	c, err := r.ResolveOption(25050, models.Put, at)
	if err != nil || c.Symbol != "NIFTY26DEC2425050PE" || c.Token != c.Symbol {
		t.Fatalf("unexpected contract %+v, %v", c, err)
	}
	if _, err := r.ResolveOption(0, models.Put, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	fut, err := r.ResolveFuture(at)
	if err != nil || fut.Symbol != "NIFTY26DEC24FUT" {
		t.Fatalf("unexpected future %+v, %v", fut, err)
	}
}

func TestParseStrike(t *testing.T) {
	if v, err := ParseStrike("2500000.000000"); err != nil || v != 25000 {
		t.Fatalf("ParseStrike = %d, %v", v, err)
	}
	if _, err := ParseStrike("-1"); err == nil {
		t.Fatalf("expected error for negative strike")
	}
	if _, err := ParseStrike("abc"); err == nil {
		t.Fatalf("expected error for garbage strike")
	}
}

const masterJSON = `[
 {"token":"1001","symbol":"NIFTY26DEC2425000CE","name":"NIFTY","expiry":"26DEC2024","strike":"2500000.000000","lotsize":"25","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"1002","symbol":"NIFTY26DEC2425000PE","name":"NIFTY","expiry":"26DEC2024","strike":"2500000.000000","lotsize":"25","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"1003","symbol":"NIFTY26DEC2425100CE","name":"NIFTY","expiry":"26DEC2024","strike":"2510000.000000","lotsize":"25","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"1004","symbol":"NIFTY26DEC2425100PE","name":"NIFTY","expiry":"26DEC2024","strike":"2510000.000000","lotsize":"25","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"2001","symbol":"NIFTY02JAN2525000CE","name":"NIFTY","expiry":"02JAN2025","strike":"2500000.000000","lotsize":"25","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"3001","symbol":"NIFTY26DEC24FUT","name":"NIFTY","expiry":"26DEC2024","strike":"-1.000000","lotsize":"25","instrumenttype":"FUTIDX","exch_seg":"NFO"},
 {"token":"3002","symbol":"NIFTY30JAN25FUT","name":"NIFTY","expiry":"30JAN2025","strike":"-1.000000","lotsize":"25","instrumenttype":"FUTIDX","exch_seg":"NFO"},
 {"token":"9001","symbol":"BANKNIFTY26DEC2450000CE","name":"BANKNIFTY","expiry":"26DEC2024","strike":"5000000.000000","lotsize":"15","instrumenttype":"OPTIDX","exch_seg":"NFO"}
]`

func testMaster(t *testing.T, nearest bool) *Master {
	t.Helper()
	instruments, err := DecodeMaster(strings.NewReader(masterJSON))
	if err != nil {
		t.Fatalf("DecodeMaster: %v", err)
	}
	m, err := NewMaster(instruments, "NIFTY", "NFO", testCalendar(t), nearest)
	if err != nil {
		t.Fatalf("NewMaster: %v", err)
	}
	return m
}

func TestMasterResolveOption(t *testing.T) {
	m := testMaster(t, false)
	cal := testCalendar(t)
	at := ist(t, cal, 2024, time.December, 24, 10, 0)

	c, err := m.ResolveOption(25000, models.Call, at)
	if err != nil || c.Token != "1001" || c.Strike != 25000 {
		t.Fatalf("unexpected contract %+v, %v", c, err)
	}
	if _, err := m.ResolveOption(25050, models.Call, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without fallback, got %v", err)
	}

	rolled := ist(t, cal, 2024, time.December, 26, 15, 45)
	c, err = m.ResolveOption(25000, models.Call, rolled)
	if err != nil || c.Token != "2001" {
		t.Fatalf("expected next expiry after cutoff, got %+v, %v", c, err)
	}
}

func TestMasterNearestFallback(t *testing.T) {
	m := testMaster(t, true)
	at := ist(t, testCalendar(t), 2024, time.December, 24, 10, 0)

	c, err := m.ResolveOption(25150, models.Put, at)
	if err != nil || c.Strike != 25100 || c.Token != "1004" {
		t.Fatalf("expected nearest listed strike, got %+v, %v", c, err)
	}
}

func TestMasterResolveFuture(t *testing.T) {
	m := testMaster(t, false)
	cal := testCalendar(t)

	c, err := m.ResolveFuture(ist(t, cal, 2024, time.December, 24, 10, 0))
	if err != nil || c.Symbol != "NIFTY26DEC24FUT" {
		t.Fatalf("unexpected future %+v, %v", c, err)
	}
	c, err = m.ResolveFuture(ist(t, cal, 2024, time.December, 27, 10, 0))
	if err != nil || c.Symbol != "NIFTY30JAN25FUT" {
		t.Fatalf("unexpected rolled future %+v, %v", c, err)
	}
	if _, err := m.ResolveFuture(ist(t, cal, 2025, time.March, 1, 10, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewMasterRejectsEmpty(t *testing.T) {
	if _, err := NewMaster(nil, "NIFTY", "NFO", testCalendar(t), false); err == nil {
		t.Fatalf("expected error for empty master")
	}
}

func TestLoadMasterDownloadsAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(masterJSON))
	}))
	defer srv.Close()

	cfg := config.Default().Contracts
	cfg.MasterURL = srv.URL
	cfg.MasterPath = filepath.Join(t.TempDir(), "master", "scrip.json")
	cal := testCalendar(t)

	if _, err := LoadMaster(context.Background(), cfg, cal, srv.Client()); err != nil {
		t.Fatalf("LoadMaster: %v", err)
	}
	if _, err := os.Stat(cfg.MasterPath); err != nil {
		t.Fatalf("master not cached: %v", err)
	}
	if _, err := LoadMaster(context.Background(), cfg, cal, srv.Client()); err != nil {
		t.Fatalf("LoadMaster from cache: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one download, got %d", hits)
	}
}

func TestLoadMasterBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default().Contracts
	cfg.MasterURL = srv.URL
	cfg.MasterPath = ""
	if _, err := LoadMaster(context.Background(), cfg, testCalendar(t), srv.Client()); err == nil {
		t.Fatalf("expected error for bad status")
	}
}
