// Package execution turns signals into orders and hands them to a broker.
package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fxagent-go/internal/metrics"
	"fxagent-go/internal/signal"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a closing sell.
	Sell Side = "SELL"
)

// TimeInForce mirrors the broker's order duration flags.
type TimeInForce string

const (
	Day TimeInForce = "day"
	IOC TimeInForce = "ioc"
)

// Order represents a market order, optionally bracketed by stop-loss and take-profit legs.
type Order struct {
	Symbol      string
	Side        Side
	Qty         float64
	Price       float64 // reference price at decision time; orders are sent as market
	TimeInForce TimeInForce
	StopLoss    float64 // 0 when no stop leg
	TakeProfit  float64 // 0 when no take-profit leg
}

// Fill is an executed order as reported by a broker.
type Fill struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

// Broker is the brokerage boundary: account state reads and order mechanics.
type Broker interface {
	Equity(ctx context.Context) (float64, error)
	Position(ctx context.Context, symbol string) (float64, error)
	CancelAll(ctx context.Context) error
	Submit(ctx context.Context, order Order) error
}

// Executor sizes orders from signals and submits them through a Broker.
type Executor struct {
	log            zerolog.Logger
	broker         Broker
	planner        Planner
	fallbackEquity float64
}

// NewExecutor wires a broker and planner. fallbackEquity is used when the broker cannot report equity.
func NewExecutor(log zerolog.Logger, broker Broker, planner Planner, fallbackEquity float64) *Executor {
	return &Executor{log: log, broker: broker, planner: planner, fallbackEquity: fallbackEquity}
}

// Execute plans and submits the order implied by sig for symbol. It returns the submitted order, or
// nil when the signal does not call for one. Account read failures degrade to the fallback equity
// and a flat position.
func (executor *Executor) Execute(ctx context.Context, sig signal.Signal, symbol string) (*Order, error) {
	if sig.IsNoDecision() || sig.Action == signal.Hold {
		executor.log.Info().Str("sym", symbol).Msg("holding current position")
		return nil, nil
	}

	equity, err := executor.broker.Equity(ctx)
	if err != nil {
		executor.log.Error().Err(err).Float64("fallback", executor.fallbackEquity).Msg("fetch account equity")
		equity = executor.fallbackEquity
	}
	position, err := executor.broker.Position(ctx, symbol)
	if err != nil {
		executor.log.Info().Err(err).Str("sym", symbol).Msg("no current position")
		position = 0
	}
	executor.log.Info().Float64("equity", equity).Float64("position", position).Str("sym", symbol).Msg("account state")

	order, reason := executor.planner.Plan(sig, symbol, equity, position)
	if order == nil {
		executor.log.Info().Str("sym", symbol).Str("action", string(sig.Action)).Str("reason", reason).Msg("no order")
		return nil, nil
	}

	if err := executor.broker.CancelAll(ctx); err != nil {
		executor.log.Error().Err(err).Msg("cancel open orders")
	}
	if err := executor.Submit(ctx, *order); err != nil {
		return nil, err
	}
	return order, nil
}

// Submit sends a single order to the broker and records it.
func (executor *Executor) Submit(ctx context.Context, order Order) error {
	if err := executor.broker.Submit(ctx, order); err != nil {
		executor.log.Error().Err(err).Str("sym", order.Symbol).Str("side", string(order.Side)).Msg("submit order")
		return err
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	executor.log.Info().
		Str("sym", order.Symbol).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("px", order.Price).
		Float64("stop_loss", order.StopLoss).
		Float64("take_profit", order.TakeProfit).
		Str("tif", string(order.TimeInForce)).
		Msg("submit order")
	return nil
}

// Reconciler is implemented by brokers that settle bracket legs locally.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Reconcile lets a local broker settle stop-loss and take-profit legs; remote brokers own that.
func (executor *Executor) Reconcile(ctx context.Context) error {
	if r, ok := executor.broker.(Reconciler); ok {
		return r.Reconcile(ctx)
	}
	return nil
}
