// Package poll fetches quotes and open interest over the broker REST API. It
// is the only PCR source and the quote fallback when the stream is disabled.
package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	appconfig "scalpflow/config"
	"scalpflow/internal/channel/tick"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/internal/reader"
	"scalpflow/internal/series"
	"scalpflow/logger"
)

const quotePath = "/market/v1/quote"

// Poller polls quotes and open interest for the tracked instruments.
type Poller struct {
	config   *appconfig.Config
	channels *tick.Channels
	tokens   *reader.TokenSet
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	client   *http.Client
	limiter  *rate.Limiter
	baseURL  string
	quotes   bool
	now      func() time.Time
}

// NewPoller builds a poller over tokens. Quote polling is enabled only when the
// websocket stream is off.
func NewPoller(cfg *appconfig.Config, ch *tick.Channels, tokens *reader.TokenSet) *Poller {
	pc := cfg.Source.Poll
	rps := pc.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	burst := pc.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Poller{
		config:   cfg,
		channels: ch,
		tokens:   tokens,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		client:   &http.Client{Timeout: pc.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		baseURL:  strings.TrimRight(strings.TrimSpace(pc.BaseURL), "/"),
		quotes:   !cfg.Source.Stream.Enabled,
		now:      time.Now,
	}
}

// Start launches the quote and open-interest loops.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poll reader already running")
	}
	cfg := p.config.Source.Poll
	if !cfg.Enabled {
		p.mu.Unlock()
		p.log.WithComponent("poll_reader").Warn("poll reader disabled via configuration")
		return fmt.Errorf("poll reader disabled")
	}
	if p.baseURL == "" {
		p.mu.Unlock()
		return fmt.Errorf("source.poll.base_url is required")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	if p.quotes {
		p.wg.Add(1)
		go p.loop(interval(cfg.QuoteInterval, time.Second), p.fetchQuotes)
	}
	p.wg.Add(1)
	go p.loop(interval(cfg.OIInterval, 10*time.Second), p.fetchOpenInterest)

	p.log.WithComponent("poll_reader").WithFields(logger.Fields{
		"base_url":     p.baseURL,
		"quotes":       p.quotes,
		"oi_interval":  cfg.OIInterval.String(),
		"quote_period": cfg.QuoteInterval.String(),
	}).Info("poll reader started")
	return nil
}

// Stop cancels the loops and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("poll_reader").Info("stopping poll reader")
	p.cancel()
	p.wg.Wait()
	p.log.WithComponent("poll_reader").Info("poll reader stopped")
}

// UpdateContracts tracks the engine's new legs.
func (p *Poller) UpdateContracts(legs models.Legs) {
	p.tokens.Update(legs)
}

func interval(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (p *Poller) loop(every time.Duration, fetch func() error) {
	defer p.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := fetch(); err != nil && p.ctx.Err() == nil {
			p.log.WithComponent("poll_reader").WithError(err).Debug("poll request failed")
		}

		select {
		case <-ticker.C:
		case <-p.ctx.Done():
			return
		}
	}
}

type quoteRequest struct {
	Mode           string              `json:"mode"`
	ExchangeTokens map[string][]string `json:"exchangeTokens"`
}

type quoteResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Fetched []quoteItem `json:"fetched"`
	} `json:"data"`
}

type quoteItem struct {
	Exchange      string          `json:"exchange"`
	TradingSymbol string          `json:"tradingSymbol"`
	SymbolToken   string          `json:"symbolToken"`
	LTP           decimal.Decimal `json:"ltp"`
	OpenInterest  decimal.Decimal `json:"opnInterest"`
}

func (p *Poller) query(mode string, instruments []reader.Instrument) ([]quoteItem, error) {
	if len(instruments) == 0 {
		return nil, nil
	}
	if err := p.limiter.Wait(p.ctx); err != nil {
		return nil, err
	}

	body := quoteRequest{Mode: mode, ExchangeTokens: map[string][]string{}}
	for _, in := range instruments {
		exch := strings.ToUpper(in.Exchange)
		body.ExchangeTokens[exch] = append(body.ExchangeTokens[exch], in.Token)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(p.ctx, http.MethodPost, p.baseURL+quotePath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key := p.config.Source.Poll.APIKey; key != "" {
		req.Header.Set("X-PrivateKey", key)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	if !out.Status {
		return nil, fmt.Errorf("quote request rejected: %s", out.Message)
	}

	logger.LogPerformanceEntry(p.log.WithComponent("poll_reader"), "poll_reader", "quote_"+strings.ToLower(mode), time.Since(start), logger.Fields{
		"instruments": len(instruments),
	})
	return out.Data.Fetched, nil
}

func (p *Poller) fetchQuotes() error {
	items, err := p.query("LTP", p.tokens.All())
	if err != nil {
		return err
	}

	now := p.now()
	for _, item := range items {
		in, ok := p.tokens.Lookup(item.SymbolToken)
		if !ok || !item.LTP.IsPositive() {
			continue
		}
		p.send(models.Tick{
			Source:    in.Source,
			Symbol:    in.Symbol,
			Token:     in.Token,
			Price:     item.LTP.InexactFloat64(),
			Timestamp: now,
			Received:  now,
		})
	}
	return nil
}

// fetchOpenInterest emits PCR = put OI / call OI, rounded to two places. No
// ratio is emitted while the call OI is zero.
func (p *Poller) fetchOpenInterest() error {
	ce, okCE := p.tokens.Leg(models.SourceCall)
	pe, okPE := p.tokens.Leg(models.SourcePut)
	if !okCE || !okPE {
		return nil
	}

	items, err := p.query("FULL", []reader.Instrument{ce, pe})
	if err != nil {
		return err
	}

	var ceOI, peOI decimal.Decimal
	for _, item := range items {
		switch item.SymbolToken {
		case ce.Token:
			ceOI = item.OpenInterest
		case pe.Token:
			peOI = item.OpenInterest
		}
	}

	pcr, ok := PCR(ceOI, peOI)
	if !ok {
		p.log.WithComponent("poll_reader").WithFields(logger.Fields{
			"ce_symbol": ce.Symbol,
		}).Warn("call open interest is zero, PCR not updated")
		return nil
	}

	now := p.now()
	p.send(models.Tick{
		Source:    models.SourceOI,
		Symbol:    ce.Symbol + "/" + pe.Symbol,
		Ratio:     series.Some(pcr),
		Timestamp: now,
		Received:  now,
	})
	p.log.WithComponent("poll_reader").WithFields(logger.Fields{
		"pcr":   pcr,
		"ce_oi": ceOI.String(),
		"pe_oi": peOI.String(),
	}).Debug("PCR updated")
	return nil
}

// PCR returns peOI/ceOI rounded to two decimal places.
func PCR(ceOI, peOI decimal.Decimal) (float64, bool) {
	if !ceOI.IsPositive() || peOI.IsNegative() {
		return 0, false
	}
	return peOI.Div(ceOI).Round(2).InexactFloat64(), true
}

func (p *Poller) send(t models.Tick) {
	if p.channels.SendTick(p.ctx, t) {
		return
	}
	if p.ctx.Err() != nil {
		return
	}
	metrics.EmitDropMetric(p.log, metrics.DropMetricTick, string(t.Source), t.Symbol, "poll")
	p.log.WithComponent("poll_reader").WithFields(logger.Fields{
		"symbol": t.Symbol,
	}).Warn("dropping polled quote due to backpressure")
}
