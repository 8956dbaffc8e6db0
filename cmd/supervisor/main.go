package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"fxagent-go/internal/config"
	"fxagent-go/internal/metrics"
	"fxagent-go/internal/supervisor"
	"fxagent-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	metricsAddr := flag.String("metrics", "", "metrics listen address (disabled when empty)")
	flag.Parse()

	boot := util.NewLogger("info")
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name+"-supervisor").Logger()

	if *metricsAddr != "" {
		srv := metrics.Serve(*metricsAddr)
		defer srv.Close()
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup, err := supervisor.New(log, supervisor.Config{
		MaxRestarts:     cfg.Supervisor.MaxRestarts,
		RestartDelay:    cfg.Supervisor.RestartDelay,
		LivenessTimeout: cfg.Supervisor.LivenessTimeout,
		PollInterval:    cfg.Supervisor.PollInterval,
		GracePeriod:     cfg.Supervisor.GracePeriod,
	}, supervisor.ProcessLauncher{
		Log:     log.With().Str("component", "agent").Logger(),
		Command: cfg.Supervisor.Command,
		Args:    cfg.Supervisor.Args,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init supervisor")
	}

	err = sup.Run(ctx)
	status := sup.Status()
	if errors.Is(err, supervisor.ErrRestartBudgetExhausted) {
		log.Error().Int("restarts", status.Restarts).Msg("supervisor giving up: restart budget exhausted")
		os.Exit(1)
	}
	log.Info().Int("restarts", status.Restarts).Str("state", status.State.String()).Msg("supervisor exited")
}
