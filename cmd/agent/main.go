package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fxagent-go/internal/agent"
	"fxagent-go/internal/config"
	"fxagent-go/internal/decision"
	"fxagent-go/internal/exchange"
	"fxagent-go/internal/execution"
	"fxagent-go/internal/features"
	"fxagent-go/internal/ingest"
	"fxagent-go/internal/metrics"
	"fxagent-go/internal/model"
	"fxagent-go/internal/paper"
	"fxagent-go/internal/risk"
	sig "fxagent-go/internal/signal"
	"fxagent-go/internal/store"
	"fxagent-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}

	log, closer := util.NewFileLogger(cfg.App.LogLevel, cfg.App.LogFile)
	defer closer.Close()
	log = log.With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Str("run_id", os.Getenv("AGENT_RUN_ID")).Logger()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("agent stopped")
		closer.Close()
		os.Exit(1)
	}
	log.Info().Msg("agent shutdown complete")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	started := time.Now()
	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instruments := cfg.Stream.Instruments()
	st := store.New(instruments, cfg.Agent.Retention)
	normalizer := ingest.NewNormalizer(cfg.Stream.ForexPairs, cfg.Stream.Equities, cfg.Stream.QuoteCurrency)
	pump := ingest.NewPump(log, st, normalizer)

	feed := exchange.NewFeed(
		cfg.Stream.Provider,
		normalizer.FeedSymbols(),
		log.With().Str("component", "feed").Logger(),
		exchange.WithStreamURL(cfg.Stream.URL),
		exchange.WithCredentials(cfg.Stream.APIKey, cfg.Stream.APISecret),
		exchange.WithStubInterval(cfg.Stream.StubInterval),
		exchange.WithBarInterval(cfg.Stream.BarInterval),
	)

	scorer, err := model.Load(cfg.Model.Path)
	if err != nil {
		return err
	}
	schema := scorer.Schema()
	if len(schema) == 0 {
		schema = features.BuildSchema(cfg.Model.SchemaInstruments, cfg.Agent.Target)
	}
	log.Info().Str("model", scorer.Name).Int("features", len(schema)).Strs("schema", schema).Msg("model loaded")
	bound, err := scorer.Bind(schema)
	if err != nil {
		return err
	}
	synth, err := features.NewSynthesizer(schema, instruments, cfg.Agent.Target, cfg.Agent.MinLookback)
	if err != nil {
		return err
	}
	engine, err := decision.NewEngine(bound, cfg.Agent.Threshold)
	if err != nil {
		return err
	}

	journal, err := paper.NewJSONLRecorder(cfg.Agent.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()
	ledger := paper.NewLedger(cfg.Paper.LedgerSize)
	prices := func(symbol string) (float64, bool) {
		latest, ok := st.Latest(symbol)
		return latest.Value, ok
	}
	broker := paper.NewBroker(log, paper.NewAccount(cfg.Paper.StartingCash), prices, paper.Recorders{journal, ledger})
	executor := execution.NewExecutor(log, broker, execution.Planner{
		OrderFraction: cfg.Execution.OrderFraction,
		StopLossPct:   cfg.Execution.StopLossPct,
		TakeProfitPct: cfg.Execution.TakeProfitPct,
		Limits:        risk.Limits{MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade},
	}, cfg.Execution.InitialCapital)

	clock, err := agent.ClockFor(cfg.Agent.MarketHours)
	if err != nil {
		return err
	}
	loop, err := agent.NewLoop(log, agent.Config{
		Target:               cfg.Agent.Target,
		TickInterval:         cfg.Agent.TickInterval,
		WarmupDelay:          cfg.Agent.WarmupDelay,
		MaxConsecutiveErrors: cfg.Agent.MaxConsecutiveErrors,
		StaleAfter:           cfg.Agent.StaleAfter,
	}, st, synth, engine, executor, agent.WithJournal(journal), agent.WithMarketClock(clock))
	if err != nil {
		return err
	}

	events := make(chan sig.Event, cfg.Stream.BufferSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx, events) })
	g.Go(func() error { return pump.Run(gctx, events) })
	g.Go(func() error { return loop.Run(gctx) })

	log.Info().
		Str("provider", cfg.Stream.Provider).
		Strs("instruments", instruments).
		Dur("retention", st.Retention()).
		Float64("threshold", engine.Threshold()).
		Msg("agent started")
	err = g.Wait()

	log.Info().
		Int("iterations", loop.Iterations()).
		Int("fills", ledger.Total()).
		Time("last_event", pump.LastSeen()).
		Dur("uptime", time.Since(started)).
		Msg("agent stopping")
	return err
}
