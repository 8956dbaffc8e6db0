// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fxagent-go/internal/util"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// App captures process-wide runtime settings such as name, environment, metrics, and logging.
type App struct {
	Name        string       `yaml:"name"`
	Env         string       `yaml:"env"`
	MetricsAddr string       `yaml:"metrics_addr"`
	LogLevel    string       `yaml:"log_level"`
	LogFile     util.LogFile `yaml:"log_file"`
}

// Stream describes the market data connection and the instruments to subscribe to.
type Stream struct {
	Provider      string        `yaml:"provider"` // stub|alpaca
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	APISecret     string        `yaml:"api_secret"`
	ForexPairs    []string      `yaml:"forex_pairs"`
	Equities      []string      `yaml:"equities"`
	QuoteCurrency string        `yaml:"quote_currency"`
	BarInterval   time.Duration `yaml:"bar_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	StubInterval  time.Duration `yaml:"stub_interval"`
}

// Instruments returns every store key in subscription order.
func (s Stream) Instruments() []string {
	out := make([]string, 0, len(s.ForexPairs)+len(s.Equities))
	out = append(out, s.ForexPairs...)
	return append(out, s.Equities...)
}

// Agent holds the decision loop and feature settings.
type Agent struct {
	Target               string        `yaml:"target"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	WarmupDelay          time.Duration `yaml:"warmup_delay"`
	Retention            time.Duration `yaml:"retention"`
	MinLookback          int           `yaml:"min_lookback"`
	Threshold            float64       `yaml:"threshold"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	StaleAfter           time.Duration `yaml:"stale_after"`
	JournalPath          string        `yaml:"journal_path"`
	MarketHours          string        `yaml:"market_hours"` // always|forex
}

// Execution sizes orders from signals.
type Execution struct {
	OrderFraction  float64 `yaml:"order_fraction"`
	StopLossPct    float64 `yaml:"stop_loss_pct"`
	TakeProfitPct  float64 `yaml:"take_profit_pct"`
	InitialCapital float64 `yaml:"initial_capital"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash"`
	LedgerSize   int     `yaml:"ledger_size"`
}

// Model points at the scorer file and the instruments its schema was trained on.
type Model struct {
	Path              string   `yaml:"path"`
	SchemaInstruments []string `yaml:"schema_instruments"`
}

// Supervisor configures the restart controller around the agent process.
type Supervisor struct {
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args"`
	MaxRestarts     int           `yaml:"max_restarts"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	GracePeriod     time.Duration `yaml:"grace_period"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Stream     Stream     `yaml:"stream"`
	Agent      Agent      `yaml:"agent"`
	Execution  Execution  `yaml:"execution"`
	Risk       Risk       `yaml:"risk"`
	Paper      Paper      `yaml:"paper"`
	Model      Model      `yaml:"model"`
	Supervisor Supervisor `yaml:"supervisor"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// LoadWithEnv loads path, applies a best-effort .env file and environment overrides, then validates.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and supervisor knobs from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("STREAM_API_KEY"); v != "" {
		c.Stream.APIKey = v
	}
	if v := getenv("STREAM_API_SECRET"); v != "" {
		c.Stream.APISecret = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.App.LogLevel = v
	}
	if v := getenv("MAX_RESTARTS"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: MAX_RESTARTS: %v", ErrInvalid, err)
		}
		c.Supervisor.MaxRestarts = n
	}
	if v := getenv("RESTART_DELAY"); v != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("%w: RESTART_DELAY: %v", ErrInvalid, err)
		}
		c.Supervisor.RestartDelay = d
	}
	return nil
}

func parseSecondsOrDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
