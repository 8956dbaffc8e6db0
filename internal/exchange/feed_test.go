package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fxagent-go/internal/signal"
)

func TestFeedRunEmitsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderStub, []string{"EUR"}, zerolog.Nop(), WithStubInterval(10*time.Millisecond))
	events := make(chan signal.Event, 1)

	go func() {
		_ = feed.Run(ctx, events)
	}()

	select {
	case ev := <-events:
		if ev.Symbol != "EUR" {
			t.Fatalf("unexpected symbol %s", ev.Symbol)
		}
		if ev.Kind != signal.KindTrade || ev.Price <= 0 || ev.Ts.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
		cancel()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNewFeedDedupesAndSortsSymbols(t *testing.T) {
	feed := NewFeed(ProviderStub, []string{"SPY", " EUR ", "SPY", ""}, zerolog.Nop())
	got := feed.snapshotSymbols()
	if len(got) != 2 || got[0] != "EUR" || got[1] != "SPY" {
		t.Fatalf("unexpected symbols %v", got)
	}
}

// fakeAlpaca speaks just enough of the v2 stream protocol for one session.
func fakeAlpaca(t *testing.T, authReply string, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"T":"success","msg":"connected"}]`))
		var auth map[string]any
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["action"] != "auth" || auth["key"] != "k" || auth["secret"] != "s" {
			t.Errorf("unexpected auth message %v", auth)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(authReply))
		if strings.Contains(authReply, `"error"`) {
			return
		}
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub["action"] != "subscribe" {
			t.Errorf("unexpected subscribe message %v", sub)
		}
		for _, frame := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		// Hold the connection until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRunAlpacaEmitsTradesAndBars(t *testing.T) {
	server := fakeAlpaca(t, `[{"T":"success","msg":"authenticated"}]`,
		`[{"T":"subscription","trades":["EUR"],"bars":["EUR"]}]`,
		`[{"T":"t","S":"EUR","p":1.0842,"s":100,"t":"2024-03-04T15:00:01.5Z"},{"T":"t","S":"EUR","p":"bad","t":"2024-03-04T15:00:02Z"}]`,
		`not json`,
		`[{"T":"b","S":"SPY","o":510,"h":511,"l":509,"c":510.5,"v":1000,"t":"2024-03-04T15:00:00Z"}]`,
	)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := NewFeed(ProviderAlpaca, []string{"EUR", "SPY"}, zerolog.Nop(),
		WithStreamURL(wsURL(server)),
		WithCredentials("k", "s"),
		WithBarInterval(time.Minute),
	)
	events := make(chan signal.Event, 4)
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx, events) }()

	var got []signal.Event
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d events", len(got))
		}
	}

	trade, bar := got[0], got[1]
	if trade.Kind != signal.KindTrade || trade.Symbol != "EUR" || trade.Price != 1.0842 {
		t.Fatalf("unexpected trade %+v", trade)
	}
	if want := time.Date(2024, 3, 4, 15, 0, 1, 500_000_000, time.UTC); !trade.Ts.Equal(want) {
		t.Fatalf("unexpected trade ts %v", trade.Ts)
	}
	if bar.Kind != signal.KindBar || bar.Symbol != "SPY" || bar.Price != 510.5 || bar.BarInterval != time.Minute {
		t.Fatalf("unexpected bar %+v", bar)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func TestRunAlpacaAuthFailureIsFatal(t *testing.T) {
	server := fakeAlpaca(t, `[{"T":"error","code":402,"msg":"auth failed"}]`)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	feed := NewFeed(ProviderAlpaca, []string{"EUR"}, zerolog.Nop(),
		WithStreamURL(wsURL(server)),
		WithCredentials("k", "s"),
		WithBackoff(10*time.Millisecond, 20*time.Millisecond),
	)
	err := feed.Run(ctx, make(chan signal.Event, 1))
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestRunAlpacaRequiresURL(t *testing.T) {
	feed := NewFeed(ProviderAlpaca, []string{"EUR"}, zerolog.Nop())
	if err := feed.Run(context.Background(), make(chan signal.Event)); err == nil {
		t.Fatal("expected error without stream url")
	}
}
