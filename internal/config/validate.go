package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that every externally supplied knob is present and sane. Nothing here is
// defaulted: a missing value is an error.
func (c *Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			bad("%s must be positive", name)
		}
	}

	if len(c.Stream.Instruments()) == 0 {
		bad("stream: at least one instrument is required")
	}
	switch strings.ToLower(c.Stream.Provider) {
	case "stub":
		positive("stream.stub_interval", c.Stream.StubInterval)
	case "alpaca":
		if c.Stream.URL == "" {
			bad("stream.url is required for alpaca")
		}
		if c.Stream.APIKey == "" || c.Stream.APISecret == "" {
			bad("stream credentials are required for alpaca")
		}
	default:
		bad("stream.provider %q is not supported", c.Stream.Provider)
	}
	if len(c.Stream.ForexPairs) > 0 && c.Stream.QuoteCurrency == "" {
		bad("stream.quote_currency is required with forex pairs")
	}
	if c.Stream.BufferSize <= 0 {
		bad("stream.buffer_size must be positive")
	}

	found := false
	for _, inst := range c.Stream.Instruments() {
		if inst == c.Agent.Target {
			found = true
		}
	}
	if !found {
		bad("agent.target %q is not a subscribed instrument", c.Agent.Target)
	}
	positive("agent.tick_interval", c.Agent.TickInterval)
	positive("agent.retention", c.Agent.Retention)
	positive("agent.stale_after", c.Agent.StaleAfter)
	if c.Agent.WarmupDelay < 0 {
		bad("agent.warmup_delay must not be negative")
	}
	if c.Agent.MinLookback <= 0 {
		bad("agent.min_lookback must be positive")
	}
	if c.Agent.Threshold <= 0 {
		bad("agent.threshold must be positive")
	}
	if c.Agent.MaxConsecutiveErrors <= 0 {
		bad("agent.max_consecutive_errors must be positive")
	}
	switch c.Agent.MarketHours {
	case "always", "forex":
	default:
		bad("agent.market_hours %q is not supported", c.Agent.MarketHours)
	}

	if c.Execution.OrderFraction <= 0 || c.Execution.OrderFraction > 1 {
		bad("execution.order_fraction must be in (0, 1]")
	}
	if c.Execution.StopLossPct <= 0 || c.Execution.StopLossPct >= 1 {
		bad("execution.stop_loss_pct must be in (0, 1)")
	}
	if c.Execution.TakeProfitPct <= 0 {
		bad("execution.take_profit_pct must be positive")
	}
	if c.Execution.InitialCapital <= 0 {
		bad("execution.initial_capital must be positive")
	}
	if c.Paper.StartingCash <= 0 {
		bad("paper.starting_cash must be positive")
	}
	if c.Model.Path == "" {
		bad("model.path is required")
	}

	if c.Supervisor.MaxRestarts <= 0 {
		bad("supervisor.max_restarts must be positive")
	}
	positive("supervisor.restart_delay", c.Supervisor.RestartDelay)
	positive("supervisor.liveness_timeout", c.Supervisor.LivenessTimeout)
	positive("supervisor.poll_interval", c.Supervisor.PollInterval)
	positive("supervisor.grace_period", c.Supervisor.GracePeriod)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
