package integration

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/agent"
	"fxagent-go/internal/decision"
	"fxagent-go/internal/exchange"
	"fxagent-go/internal/execution"
	"fxagent-go/internal/features"
	"fxagent-go/internal/ingest"
	"fxagent-go/internal/paper"
	sig "fxagent-go/internal/signal"
	"fxagent-go/internal/store"
)

func TestPaperFlowProducesOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	instruments := []string{"EURUSD", "SPY"}
	st := store.New(instruments, 24*time.Hour)
	normalizer := ingest.NewNormalizer([]string{"EURUSD"}, []string{"SPY"}, "USD")
	pump := ingest.NewPump(zerolog.Nop(), st, normalizer)

	feed := exchange.NewFeed(exchange.ProviderStub, normalizer.FeedSymbols(), zerolog.Nop(), exchange.WithStubInterval(time.Millisecond))
	events := make(chan sig.Event, 64)
	go func() { _ = feed.Run(ctx, events) }()
	go func() { _ = pump.Run(ctx, events) }()

	for st.Len("EURUSD") < 30 || st.Len("SPY") < 30 {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for history, have %d", st.Len("EURUSD"))
		case <-time.After(5 * time.Millisecond):
		}
	}

	schema := features.BuildSchema([]string{"EURUSD", "GBPUSD", "SPY"}, "EURUSD")
	synth, err := features.NewSynthesizer(schema, instruments, "EURUSD", 25)
	if err != nil {
		t.Fatalf("NewSynthesizer returned error: %v", err)
	}
	// Far above any stub price, so the tick must buy.
	engine, err := decision.NewEngine(decision.ScorerFunc(func([]float64) (float64, error) { return 1e6, nil }), 0.001)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	journalPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	journal, err := paper.NewJSONLRecorder(journalPath)
	if err != nil {
		t.Fatalf("NewJSONLRecorder returned error: %v", err)
	}
	ledger := paper.NewLedger(8)
	account := paper.NewAccount(10000)
	prices := func(symbol string) (float64, bool) {
		latest, ok := st.Latest(symbol)
		return latest.Value, ok
	}
	broker := paper.NewBroker(logger, account, prices, paper.Recorders{journal, ledger})
	executor := execution.NewExecutor(logger, broker, execution.Planner{
		OrderFraction: 0.10,
		StopLossPct:   0.005,
		TakeProfitPct: 0.01,
	}, 10000)

	loop, err := agent.NewLoop(logger, agent.Config{
		Target:               "EURUSD",
		TickInterval:         time.Minute,
		MaxConsecutiveErrors: 5,
	}, st, synth, engine, executor, agent.WithJournal(journal))
	if err != nil {
		t.Fatalf("NewLoop returned error: %v", err)
	}

	got, err := loop.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick returned error: %v", err)
	}
	if got.Action != sig.Buy {
		t.Fatalf("expected buy, got %s", got)
	}
	if account.Position("EURUSD") <= 0 {
		t.Fatalf("expected an open EURUSD position")
	}
	if ledger.Total() != 1 {
		t.Fatalf("expected one fill, got %d", ledger.Total())
	}
	if !strings.Contains(buf.String(), "submit order") {
		t.Fatalf("expected log output to include submit order, got %s", buf.String())
	}
	if !strings.Contains(buf.String(), "GBPUSD_Return") {
		t.Fatalf("expected zero-filled features to be logged")
	}

	cancel()
	if err := journal.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	raw, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"signal"`) || !strings.Contains(lines[1], `"fill"`) {
		t.Fatalf("unexpected journal contents:\n%s", raw)
	}
}
