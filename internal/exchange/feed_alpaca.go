package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"fxagent-go/internal/signal"
)

// ErrAuth is returned when the stream rejects the configured credentials; reconnecting cannot help.
var ErrAuth = errors.New("stream authentication failed")

// Alpaca error codes that will not clear by reconnecting.
const (
	codeAuthFailed      = 402
	codeAuthTimeout     = 404
	codeInsufficientSub = 409
)

type alpacaAuth struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type alpacaSubscribe struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
	Bars   []string `json:"bars"`
}

func (f *Feed) runAlpaca(ctx context.Context, out chan<- signal.Event) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("alpaca feed requires at least one symbol")
	}
	if f.url == "" {
		return fmt.Errorf("alpaca feed requires a stream url")
	}

	backoff := f.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := f.consumeAlpacaStream(ctx, symbols, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuth) {
			return err
		}
		if connected {
			backoff = f.minBackoff
		}
		f.log.Warn().Err(err).Dur("backoff", backoff).Msg("stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(f.maxBackoff), float64(backoff)*1.8))
	}
}

// consumeAlpacaStream runs one connection. connected reports whether authentication succeeded, so
// the caller can reset its backoff.
func (f *Feed) consumeAlpacaStream(ctx context.Context, symbols []string, out chan<- signal.Event) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	if err := conn.WriteJSON(alpacaAuth{Action: "auth", Key: f.apiKey, Secret: f.apiSecret}); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}
	if err := f.awaitAuthenticated(conn); err != nil {
		return false, err
	}
	if err := conn.WriteJSON(alpacaSubscribe{Action: "subscribe", Trades: symbols, Bars: symbols}); err != nil {
		return true, fmt.Errorf("send subscribe: %w", err)
	}
	f.log.Info().Str("provider", ProviderAlpaca).Strs("symbols", symbols).Msg("connected market data feed")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("stream ping failed")
					return
				}
			case <-pingCtx.Done():
				// Unblocks ReadMessage on shutdown.
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		events, err := f.decodeAlpacaFrame(message)
		if err != nil {
			return true, err
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
	}
}

// awaitAuthenticated reads control frames until the server confirms authentication.
func (f *Feed) awaitAuthenticated(conn *websocket.Conn) error {
	for i := 0; i < 5; i++ {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await auth: %w", err)
		}
		authed := false
		var failure error
		gjson.ParseBytes(message).ForEach(func(_, m gjson.Result) bool {
			switch m.Get("T").String() {
			case "success":
				if m.Get("msg").String() == "authenticated" {
					authed = true
				}
			case "error":
				failure = classifyAlpacaError(m)
				return false
			}
			return true
		})
		if failure != nil {
			return failure
		}
		if authed {
			return nil
		}
	}
	return fmt.Errorf("no authentication confirmation")
}

// decodeAlpacaFrame converts one frame (a JSON array of messages) into events. Malformed messages
// are logged and skipped; a fatal stream error is returned.
func (f *Feed) decodeAlpacaFrame(message []byte) ([]signal.Event, error) {
	if !gjson.ValidBytes(message) {
		f.log.Warn().Msg("failed to decode stream frame")
		return nil, nil
	}
	var (
		events []signal.Event
		fatal  error
	)
	gjson.ParseBytes(message).ForEach(func(_, m gjson.Result) bool {
		switch m.Get("T").String() {
		case "t":
			if ev, ok := f.parseAlpacaEvent(m, signal.KindTrade, "p"); ok {
				events = append(events, ev)
			}
		case "b":
			if ev, ok := f.parseAlpacaEvent(m, signal.KindBar, "c"); ok {
				ev.BarInterval = f.barInterval
				events = append(events, ev)
			}
		case "subscription":
			f.log.Info().Str("trades", m.Get("trades").Raw).Str("bars", m.Get("bars").Raw).Msg("subscribed")
		case "error":
			err := classifyAlpacaError(m)
			if errors.Is(err, ErrAuth) {
				fatal = err
				return false
			}
			f.log.Error().Err(err).Msg("stream error")
		}
		return true
	})
	return events, fatal
}

func (f *Feed) parseAlpacaEvent(m gjson.Result, kind signal.EventKind, priceField string) (signal.Event, bool) {
	sym := m.Get("S").String()
	px := m.Get(priceField)
	ts, err := time.Parse(time.RFC3339Nano, m.Get("t").String())
	if sym == "" || px.Type != gjson.Number || err != nil {
		f.log.Warn().Str("kind", string(kind)).Str("raw", m.Raw).Msg("malformed stream message")
		return signal.Event{}, false
	}
	return signal.Event{Kind: kind, Symbol: sym, Price: px.Float(), Ts: ts}, true
}

func classifyAlpacaError(m gjson.Result) error {
	code := m.Get("code").Int()
	msg := m.Get("msg").String()
	switch code {
	case codeAuthFailed, codeAuthTimeout, codeInsufficientSub:
		return fmt.Errorf("%w: %d %s", ErrAuth, code, msg)
	}
	return fmt.Errorf("stream error %d: %s", code, msg)
}
