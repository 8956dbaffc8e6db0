package paper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/execution"
)

// PriceSource returns the latest known price for a symbol.
type PriceSource func(symbol string) (float64, bool)

// Broker fills market orders against an Account at the latest stream price.
type Broker struct {
	log      zerolog.Logger
	account  *Account
	prices   PriceSource
	recorder FillRecorder
	now      func() time.Time
}

// NewBroker wires an account, a price source and an optional fill recorder.
func NewBroker(log zerolog.Logger, account *Account, prices PriceSource, recorder FillRecorder) *Broker {
	return &Broker{log: log, account: account, prices: prices, recorder: recorder, now: time.Now}
}

// Equity marks every open position at its latest price.
func (b *Broker) Equity(context.Context) (float64, error) {
	marks := make(map[string]float64)
	for _, sym := range b.account.Symbols() {
		if px, ok := b.prices(sym); ok {
			marks[sym] = px
		}
	}
	return b.account.Equity(marks), nil
}

// Position returns the open quantity for symbol.
func (b *Broker) Position(_ context.Context, symbol string) (float64, error) {
	return b.account.Position(symbol), nil
}

// CancelAll is a no-op: paper orders fill immediately and brackets live on the position.
func (b *Broker) CancelAll(context.Context) error { return nil }

// Submit fills the order at the latest price.
func (b *Broker) Submit(_ context.Context, order execution.Order) error {
	px, ok := b.prices(order.Symbol)
	if !ok || px <= 0 {
		return fmt.Errorf("no price for %s", order.Symbol)
	}
	var err error
	switch order.Side {
	case execution.Buy:
		err = b.account.Buy(order.Symbol, order.Qty, px, order.StopLoss, order.TakeProfit)
	case execution.Sell:
		err = b.account.Sell(order.Symbol, order.Qty, px)
	default:
		err = fmt.Errorf("unknown order side %q", order.Side)
	}
	if err != nil {
		return fmt.Errorf("paper fill %s %s: %w", order.Side, order.Symbol, err)
	}
	b.record(execution.Fill{Symbol: order.Symbol, Side: order.Side, Qty: order.Qty, Price: px, Ts: b.now()})
	return nil
}

// Reconcile exits positions whose stop-loss or take-profit was crossed since the last call.
func (b *Broker) Reconcile(context.Context) error {
	for _, sym := range b.account.Symbols() {
		px, ok := b.prices(sym)
		if !ok {
			continue
		}
		if qty := b.account.TriggerBrackets(sym, px); qty > 0 {
			b.log.Info().Str("sym", sym).Float64("qty", qty).Float64("px", px).Msg("bracket exit")
			b.record(execution.Fill{Symbol: sym, Side: execution.Sell, Qty: qty, Price: px, Ts: b.now()})
		}
	}
	return nil
}

func (b *Broker) record(fill execution.Fill) {
	if b.recorder != nil {
		b.recorder.Record(fill)
	}
}
