// Package stream reads live quotes from the broker websocket feed and pushes
// them onto the tick channel.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	appconfig "scalpflow/config"
	"scalpflow/internal/channel/tick"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/internal/reader"
	"scalpflow/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second

	// modeQuote requests last traded price with exchange timestamp.
	modeQuote = 3
)

// exchangeTypes maps exchange segments to the feed's numeric codes.
var exchangeTypes = map[string]int{
	"NSE": 1,
	"NFO": 2,
	"BSE": 3,
	"BFO": 4,
}

// Reader keeps a websocket subscription open for the spot index and the
// engine's current contracts.
type Reader struct {
	config   *appconfig.Config
	channels *tick.Channels
	tokens   *reader.TokenSet
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	connMu sync.Mutex
	conn   *websocket.Conn
	now    func() time.Time
}

// NewReader builds a reader over tokens. Legs are added later through
// UpdateContracts.
func NewReader(cfg *appconfig.Config, ch *tick.Channels, tokens *reader.TokenSet) *Reader {
	return &Reader{
		config:   cfg,
		channels: ch,
		tokens:   tokens,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		now:      time.Now,
	}
}

// Start launches the connection loop.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("stream reader already running")
	}

	cfg := r.config.Source.Stream
	if !cfg.Enabled {
		r.mu.Unlock()
		r.log.WithComponent("stream_reader").Warn("stream reader disabled via configuration")
		return fmt.Errorf("stream reader disabled")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		r.mu.Unlock()
		return fmt.Errorf("source.stream.url is required")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(cfg)

	r.log.WithComponent("stream_reader").WithFields(logger.Fields{
		"url": cfg.URL,
	}).Info("stream reader started")
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (r *Reader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("stream_reader").Info("stopping stream reader")
	r.cancel()
	r.connMu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.connMu.Unlock()
	r.wg.Wait()
	r.log.WithComponent("stream_reader").Info("stream reader stopped")
}

// UpdateContracts tracks new legs and subscribes to any new tokens on the
// live connection. It is registered as the engine's contract callback.
func (r *Reader) UpdateContracts(legs models.Legs) {
	added := r.tokens.Update(legs)
	if len(added) == 0 {
		return
	}

	r.connMu.Lock()
	conn := r.conn
	var err error
	if conn != nil {
		err = subscribe(conn, added)
	}
	r.connMu.Unlock()

	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{"tokens": len(added), "strike": legs.Strike})
	switch {
	case conn == nil:
		log.Debug("not connected, contracts will be subscribed on connect")
	case err != nil:
		log.WithError(err).Warn("failed to subscribe new contracts")
	default:
		log.Info("subscribed new contracts")
	}
}

func (r *Reader) run(cfg appconfig.StreamConfig) {
	defer r.wg.Done()

	reconnect := cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = defaultReconnectDelay
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("x-api-key", cfg.APIKey)
	}

	log := r.log.WithComponent("stream_reader").WithFields(logger.Fields{"url": cfg.URL})
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for {
		if r.ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(r.ctx, cfg.URL, header)
		if err != nil {
			log.WithError(err).Warn("failed to connect to quote stream")
			if waitForReconnect(r.ctx, reconnect) {
				return
			}
			continue
		}

		r.connMu.Lock()
		r.conn = conn
		err = subscribe(conn, r.tokens.All())
		r.connMu.Unlock()
		if err != nil {
			log.WithError(err).Warn("failed to subscribe to quote stream")
			r.dropConn(conn)
			if waitForReconnect(r.ctx, reconnect) {
				return
			}
			continue
		}

		stopPing := r.startPingLoop(conn, defaultKeepAlive, log)
		if err := r.readMessages(conn); err != nil && r.ctx.Err() == nil {
			log.WithError(err).Warn("quote stream error, reconnecting")
		}
		stopPing()
		r.dropConn(conn)

		if waitForReconnect(r.ctx, reconnect) {
			return
		}
	}
}

func (r *Reader) dropConn(conn *websocket.Conn) {
	r.connMu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.connMu.Unlock()
	conn.Close()
}

type tokenGroup struct {
	ExchangeType int      `json:"exchangeType"`
	Tokens       []string `json:"tokens"`
}

type subscribeRequest struct {
	CorrelationID string `json:"correlationID"`
	Action        int    `json:"action"`
	Params        struct {
		Mode      int          `json:"mode"`
		TokenList []tokenGroup `json:"tokenList"`
	} `json:"params"`
}

func subscribe(conn *websocket.Conn, instruments []reader.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	groups := map[int]*tokenGroup{}
	order := []int{}
	for _, in := range instruments {
		code, ok := exchangeTypes[strings.ToUpper(in.Exchange)]
		if !ok {
			code = exchangeTypes["NFO"]
		}
		g, ok := groups[code]
		if !ok {
			g = &tokenGroup{ExchangeType: code}
			groups[code] = g
			order = append(order, code)
		}
		g.Tokens = append(g.Tokens, in.Token)
	}

	req := subscribeRequest{CorrelationID: "scalpflow", Action: 1}
	req.Params.Mode = modeQuote
	for _, code := range order {
		req.Params.TokenList = append(req.Params.TokenList, *groups[code])
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(req)
}

func (r *Reader) readMessages(conn *websocket.Conn) error {
	for {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		r.handleMessage(raw)
	}
}

// quote is one feed update. Prices arrive in paise.
type quote struct {
	Token             string `json:"token"`
	LastTradedPrice   int64  `json:"last_traded_price"`
	ExchangeTimestamp int64  `json:"exchange_timestamp"`
}

func decodeQuotes(raw []byte) ([]quote, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var qs []quote
		err := json.Unmarshal(raw, &qs)
		return qs, err
	}
	var q quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	return []quote{q}, nil
}

func (r *Reader) handleMessage(raw []byte) {
	quotes, err := decodeQuotes(raw)
	if err != nil {
		r.log.WithComponent("stream_reader").WithError(err).Debug("failed to decode quote payload")
		return
	}

	received := r.now()
	for _, q := range quotes {
		if q.Token == "" || q.LastTradedPrice <= 0 {
			continue
		}
		in, ok := r.tokens.Lookup(q.Token)
		if !ok {
			continue
		}

		ts := received
		if q.ExchangeTimestamp > 0 {
			ts = time.UnixMilli(q.ExchangeTimestamp)
		}
		t := models.Tick{
			Source:    in.Source,
			Symbol:    in.Symbol,
			Token:     in.Token,
			Price:     decimal.New(q.LastTradedPrice, -2).InexactFloat64(),
			Timestamp: ts,
			Received:  received,
		}

		if !r.channels.SendTick(r.ctx, t) {
			if r.ctx.Err() != nil {
				return
			}
			metrics.EmitDropMetric(r.log, metrics.DropMetricTick, string(t.Source), t.Symbol, "stream")
			r.log.WithComponent("stream_reader").WithFields(logger.Fields{
				"symbol": t.Symbol,
			}).Warn("dropping quote due to backpressure")
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (r *Reader) startPingLoop(conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(r.ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				r.connMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				r.connMu.Unlock()
				if err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					return
				}
			}
		}
	}()
	return cancel
}
