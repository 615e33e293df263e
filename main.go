package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"scalpflow/config"
	"scalpflow/internal/channel"
	"scalpflow/internal/contracts"
	"scalpflow/internal/dashboard"
	"scalpflow/internal/engine"
	"scalpflow/internal/metrics"
	"scalpflow/internal/models"
	"scalpflow/internal/processor"
	"scalpflow/internal/reader"
	"scalpflow/internal/reader/poll"
	"scalpflow/internal/reader/sim"
	"scalpflow/internal/reader/stream"
	"scalpflow/internal/writer"
	"scalpflow/logger"
)

// tickSource is implemented by every reader feeding the tick channel.
type tickSource interface {
	Start(ctx context.Context) error
	Stop()
	UpdateContracts(legs models.Legs)
}

type namedSource struct {
	name string
	tickSource
}

// sink is implemented by the record consumers.
type sink interface {
	Start(ctx context.Context) error
	Stop()
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	resolvedPath := config.ResolveConfigPath(*configPath, "config/config.yml")
	cfg, err := config.LoadConfig(resolvedPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     env,
		"config":  resolvedPath,
		"mode":    cfg.Source.Mode,
	}).Info("starting scalpflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Logging.CloudWatch {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Logging.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" || cfg.Logging.CloudWatch {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	metrics.Init(cfg.Metrics)

	resolver, err := buildResolver(ctx, cfg, env)
	if err != nil {
		log.WithError(err).Error("failed to resolve contracts")
		os.Exit(1)
	}

	eng, err := engine.New(cfg, resolver)
	if err != nil {
		log.WithError(err).Error("failed to create signal engine")
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels)
	channels.StartMetricsReporting(ctx, 30*time.Second)
	metrics.StartChannelSizeMetrics(ctx, channels, cfg.Metrics.Interval)

	sources, err := buildSources(cfg, channels)
	if err != nil {
		log.WithError(err).Error("failed to create tick sources")
		os.Exit(1)
	}
	eng.OnContractsChanged(func(legs models.Legs) {
		for _, src := range sources {
			src.UpdateContracts(legs)
		}
	})

	var (
		journal     *writer.Journal
		journalSink processor.Journal
		logSource   dashboard.TradeLogSource
	)
	if cfg.Journal.Enabled {
		journal, err = writer.NewJournal(cfg.Journal)
		if err != nil {
			log.WithError(err).Error("failed to open trade journal")
			os.Exit(1)
		}
		defer journal.Close()
		journalSink = journal
		logSource = journal
	}

	sinks, err := buildSinks(cfg, channels)
	if err != nil {
		log.WithError(err).Error("failed to create record sinks")
		os.Exit(1)
	}

	proc := processor.NewSignalProcessor(cfg, eng, channels.Ticks, channels.Records, journalSink)

	dash, err := dashboard.NewServer(cfg.Dashboard, log, eng, logSource)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if journal != nil {
		if err := journal.Start(ctx); err != nil {
			log.WithError(err).Warn("trade journal failed to start")
		}
	}
	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			log.WithError(err).Warn("record sink failed to start")
		}
	}
	if err := proc.Start(ctx); err != nil {
		log.WithError(err).Error("signal processor failed to start")
		os.Exit(1)
	}
	for _, src := range sources {
		if err := src.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"source": src.name}).Warn("tick source failed to start")
		}
	}

	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Error("dashboard stopped with error")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"sources":   len(sources),
		"sinks":     len(sinks),
		"dashboard": dash.Address(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	for _, src := range sources {
		log.WithFields(logger.Fields{"source": src.name}).Info("stopping tick source")
		src.Stop()
	}

	log.Info("stopping signal processor")
	proc.Stop()
	channels.Close()

	for _, s := range sinks {
		s.Stop()
	}
	if journal != nil {
		log.Info("stopping trade journal")
		journal.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("scalpflow stopped")
}

// buildResolver loads the instrument master in live mode. Outside production
// a master failure falls back to simulated ticks with derived symbols.
func buildResolver(ctx context.Context, cfg *config.Config, env string) (contracts.Resolver, error) {
	cal, err := contracts.NewCalendar(cfg.Contracts, cfg.Engine.Safety.Timezone)
	if err != nil {
		return nil, err
	}
	naming := contracts.NewNamingResolver(cfg.Contracts.Underlying, cfg.Contracts.Exchange, cal)
	if cfg.Source.Mode == "simulate" {
		return naming, nil
	}

	timeout := cfg.Contracts.MasterTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	master, err := contracts.LoadMaster(loadCtx, cfg.Contracts, cal, nil)
	if err == nil {
		return master, nil
	}
	if config.IsProductionLike(env) {
		return nil, fmt.Errorf("load instrument master: %w", err)
	}

	logger.GetLogger().WithComponent("main").WithError(err).Warn("instrument master unavailable, falling back to simulator")
	cfg.Source.Mode = "simulate"
	return naming, nil
}

func spotExchange(derivatives string) string {
	if strings.EqualFold(derivatives, "BFO") {
		return "BSE"
	}
	return "NSE"
}

// buildSources creates the readers for the configured mode. Each reader owns
// its token set so every one sees newly added legs.
func buildSources(cfg *config.Config, channels *channel.Channels) ([]namedSource, error) {
	c := cfg.Contracts
	newTokens := func() *reader.TokenSet {
		return reader.NewTokenSet(c.Underlying, c.SpotToken, spotExchange(c.Exchange))
	}

	if cfg.Source.Mode == "simulate" {
		s, err := sim.NewSimulator(cfg, channels.Ticks, newTokens())
		if err != nil {
			return nil, err
		}
		return []namedSource{{name: "simulator", tickSource: s}}, nil
	}

	var sources []namedSource
	if cfg.Source.Stream.Enabled {
		sources = append(sources, namedSource{name: "stream", tickSource: stream.NewReader(cfg, channels.Ticks, newTokens())})
	}
	if cfg.Source.Poll.Enabled {
		sources = append(sources, namedSource{name: "poll", tickSource: poll.NewPoller(cfg, channels.Ticks, newTokens())})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("live mode needs source.stream or source.poll enabled")
	}
	return sources, nil
}

// buildSinks subscribes the archive and Kafka writers to the record hub.
func buildSinks(cfg *config.Config, channels *channel.Channels) ([]sink, error) {
	log := logger.GetLogger().WithComponent("main")
	var sinks []sink

	if cfg.Storage.S3.Enabled {
		sub, err := channels.Records.Subscribe("archive")
		if err != nil {
			return nil, err
		}
		archive, err := writer.NewArchive(cfg, sub)
		if err != nil {
			return nil, fmt.Errorf("archive writer: %w", err)
		}
		sinks = append(sinks, archive)
	} else {
		log.Info("S3 storage disabled; skipping archive writer")
	}

	if cfg.Kafka.Enabled {
		sub, err := channels.Records.Subscribe("kafka")
		if err != nil {
			return nil, err
		}
		kw, err := writer.NewKafkaWriter(cfg, sub)
		if err != nil {
			return nil, fmt.Errorf("kafka writer: %w", err)
		}
		sinks = append(sinks, kw)
	}

	return sinks, nil
}
