package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/logger"
)

// Instrument is one row of the broker scrip master.
type Instrument struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	Exchange       string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

const (
	instrumentOption = "OPTIDX"
	instrumentFuture = "FUTIDX"
	expiryLayout     = "02Jan2006"
)

var strikeScale = decimal.NewFromInt(100)

type optionKey struct {
	expiry string
	strike int
	kind   models.OptionKind
}

// Master resolves contracts from a loaded scrip master. Expiries come from
// the listed contracts rather than the calendar so holiday shifted expiries
// resolve correctly.
type Master struct {
	calendar *Calendar
	nearest  bool

	options  map[optionKey]models.Contract
	strikes  map[string][]int
	expiries []time.Time
	futures  []models.Contract
}

// NewMaster indexes the instruments of one underlying on one exchange.
func NewMaster(instruments []Instrument, underlying, exchange string, cal *Calendar, nearest bool) (*Master, error) {
	m := &Master{
		calendar: cal,
		nearest:  nearest,
		options:  make(map[optionKey]models.Contract),
		strikes:  make(map[string][]int),
	}
	seen := map[string]bool{}

	for _, inst := range instruments {
		if !strings.EqualFold(inst.Name, underlying) || !strings.EqualFold(inst.Exchange, exchange) {
			continue
		}
		expiry, err := time.ParseInLocation(expiryLayout, inst.Expiry, cal.Location())
		if err != nil {
			continue
		}

		switch strings.ToUpper(inst.InstrumentType) {
		case instrumentFuture:
			m.futures = append(m.futures, models.Contract{
				Symbol: inst.Symbol, Token: inst.Token, Exchange: inst.Exchange, Expiry: expiry,
			})
		case instrumentOption:
			kind, ok := optionKind(inst.Symbol)
			if !ok {
				continue
			}
			strike, err := ParseStrike(inst.Strike)
			if err != nil {
				continue
			}
			code := ExpiryCode(expiry)
			m.options[optionKey{code, strike, kind}] = models.Contract{
				Symbol:   inst.Symbol,
				Token:    inst.Token,
				Exchange: inst.Exchange,
				Strike:   strike,
				Option:   kind,
				Expiry:   expiry,
			}
			if !seen[code] {
				seen[code] = true
				m.expiries = append(m.expiries, expiry)
			}
			m.strikes[code] = append(m.strikes[code], strike)
		}
	}

	if len(m.options) == 0 && len(m.futures) == 0 {
		return nil, fmt.Errorf("scrip master has no %s contracts on %s", underlying, exchange)
	}

	sort.Slice(m.expiries, func(i, j int) bool { return m.expiries[i].Before(m.expiries[j]) })
	sort.Slice(m.futures, func(i, j int) bool { return m.futures[i].Expiry.Before(m.futures[j].Expiry) })
	for code, list := range m.strikes {
		sort.Ints(list)
		m.strikes[code] = dedupe(list)
	}
	return m, nil
}

// ParseStrike converts the master's strike, quoted in paise, to index points.
func ParseStrike(v string) (int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse strike %q: %w", v, err)
	}
	points := d.Div(strikeScale).Round(0)
	if !points.IsPositive() {
		return 0, fmt.Errorf("parse strike %q: not positive", v)
	}
	return int(points.IntPart()), nil
}

func optionKind(symbol string) (models.OptionKind, bool) {
	switch {
	case strings.HasSuffix(symbol, string(models.Call)):
		return models.Call, true
	case strings.HasSuffix(symbol, string(models.Put)):
		return models.Put, true
	}
	return "", false
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// ResolveOption returns the contract on the nearest live expiry. With the
// nearest fallback enabled, a missing strike resolves to the closest listed
// one.
func (m *Master) ResolveOption(strike int, kind models.OptionKind, at time.Time) (models.Contract, error) {
	for _, expiry := range m.expiries {
		if m.calendar.Expired(expiry, at) {
			continue
		}
		code := ExpiryCode(expiry)
		if c, ok := m.options[optionKey{code, strike, kind}]; ok {
			return c, nil
		}
		if !m.nearest {
			return models.Contract{}, fmt.Errorf("%s %d %s: %w", code, strike, kind, ErrNotFound)
		}
		if alt, ok := closest(m.strikes[code], strike); ok {
			if c, ok := m.options[optionKey{code, alt, kind}]; ok {
				return c, nil
			}
		}
		return models.Contract{}, fmt.Errorf("%s %d %s: %w", code, strike, kind, ErrNotFound)
	}
	return models.Contract{}, fmt.Errorf("no live expiry for %d %s: %w", strike, kind, ErrNotFound)
}

func (m *Master) ResolveFuture(at time.Time) (models.Contract, error) {
	for _, c := range m.futures {
		if !m.calendar.Expired(c.Expiry, at) {
			return c, nil
		}
	}
	return models.Contract{}, fmt.Errorf("no live future: %w", ErrNotFound)
}

func closest(sorted []int, target int) (int, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	i := sort.SearchInts(sorted, target)
	switch {
	case i == 0:
		return sorted[0], true
	case i == len(sorted):
		return sorted[len(sorted)-1], true
	case target-sorted[i-1] <= sorted[i]-target:
		return sorted[i-1], true
	default:
		return sorted[i], true
	}
}

// DecodeMaster reads a JSON array of instruments.
func DecodeMaster(r io.Reader) ([]Instrument, error) {
	var instruments []Instrument
	if err := json.NewDecoder(r).Decode(&instruments); err != nil {
		return nil, fmt.Errorf("decode scrip master: %w", err)
	}
	return instruments, nil
}

// LoadMaster reads the scrip master from MasterPath when it exists and was
// written today, otherwise downloads it from MasterURL and caches it at
// MasterPath.
func LoadMaster(ctx context.Context, cfg config.ContractsConfig, cal *Calendar, client *http.Client) (*Master, error) {
	log := logger.GetLogger().WithComponent("contracts")

	if cfg.MasterPath != "" {
		if info, err := os.Stat(cfg.MasterPath); err == nil && sameDay(info.ModTime(), time.Now(), cal.Location()) {
			f, err := os.Open(cfg.MasterPath)
			if err != nil {
				return nil, fmt.Errorf("open scrip master: %w", err)
			}
			defer f.Close()
			instruments, err := DecodeMaster(f)
			if err != nil {
				return nil, err
			}
			log.WithFields(logger.Fields{"path": cfg.MasterPath, "instruments": len(instruments)}).Info("loaded cached scrip master")
			return NewMaster(instruments, cfg.Underlying, cfg.Exchange, cal, cfg.NearestFallback)
		}
	}

	if cfg.MasterURL == "" {
		return nil, fmt.Errorf("contracts.master_url is empty and no cached master at %q", cfg.MasterPath)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.MasterTimeout}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.MasterURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download scrip master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download scrip master: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scrip master: %w", err)
	}
	instruments, err := DecodeMaster(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	logger.LogPerformanceEntry(log, "contracts", "download_master", time.Since(start), logger.Fields{"instruments": len(instruments)})

	if cfg.MasterPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.MasterPath), 0o755); err == nil {
			if err := os.WriteFile(cfg.MasterPath, body, 0o644); err != nil {
				log.WithError(err).Warn("failed to cache scrip master")
			}
		}
	}

	log.WithFields(logger.Fields{"instruments": len(instruments)}).Info("downloaded scrip master")
	return NewMaster(instruments, cfg.Underlying, cfg.Exchange, cal, cfg.NearestFallback)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
