package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"scalpflow/config"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/logger"
)

// SignalSource exposes the read side of the signal engine.
type SignalSource interface {
	Latest() models.SignalRecord
	History(limit int) []models.HistoryPoint
}

// TradeLogSource reads journal rows, newest first.
type TradeLogSource interface {
	Recent(ctx context.Context, limit int) ([]models.TradeLog, error)
}

// Server hosts the Gin-powered dashboard API and the websocket record feed.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	signals         SignalSource
	journal         TradeLogSource
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	upgrader        websocket.Upgrader

	wsClients atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil. journal may
// be nil, in which case /api/logs serves an empty list.
func NewServer(cfg config.DashboardConfig, log *logger.Log, signals SignalSource, journal TradeLogSource) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if signals == nil {
		return nil, errors.New("dashboard requires a signal source")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 250 * time.Millisecond
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		log:             log,
		signals:         signals,
		journal:         journal,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{
		"address":       s.cfg.Address,
		"push_interval": s.cfg.PushInterval,
	}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		// hijacked websocket connections are not closed by Shutdown
		s.closeFeeds()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) closeFeeds() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) cleanup() {
	s.closeFeeds()
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Clients reports the number of connected websocket feeds.
func (s *Server) Clients() int64 {
	return s.wsClients.Load()
}

func queryLimit(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"refresh_interval_ms": s.cfg.RefreshInterval.Milliseconds(),
			"push_interval_ms":    s.cfg.PushInterval.Milliseconds(),
			"clients":             s.Clients(),
		})
	})

	router.GET("/api/scalper-data", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.signals.Latest())
	})

	router.GET("/api/history", func(c *gin.Context) {
		points := s.signals.History(queryLimit(c, 0))
		c.JSON(http.StatusOK, gin.H{"history": points})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		if s.journal == nil {
			c.JSON(http.StatusOK, gin.H{"logs": []models.TradeLog{}})
			return
		}
		rows, err := s.journal.Recent(c.Request.Context(), queryLimit(c, 50))
		if err != nil {
			s.log.WithComponent("dashboard").WithError(err).Warn("failed to read trade journal")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": rows})
	})

	router.GET("/api/app-logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot(c.Query("level"))
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot(c.Query("component"))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", s.serveFeed)

	return router, nil
}

// serveFeed upgrades the request and pushes the latest record every
// PushInterval until the client goes away or the server shuts down.
func (s *Server) serveFeed(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("dashboard").WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.wsClients.Add(1)
	defer s.wsClients.Add(-1)

	entry := s.log.WithComponent("dashboard").WithFields(logger.Fields{"remote": c.Request.RemoteAddr})
	entry.Debug("websocket client connected")

	// the read side only detects close frames
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			entry.Debug("websocket client disconnected")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(s.signals.Latest()); err != nil {
				entry.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
