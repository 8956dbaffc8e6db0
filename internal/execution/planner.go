package execution

import (
	"github.com/shopspring/decimal"

	"fxagent-go/internal/risk"
	"fxagent-go/internal/signal"
)

// pricePlaces is the precision bracket prices are rounded to.
const pricePlaces = 5

// Planner decides whether a signal becomes an order and how large it is. Buys only open from flat,
// sells only close an existing long.
type Planner struct {
	OrderFraction float64 // share of equity committed per entry
	StopLossPct   float64
	TakeProfitPct float64
	Limits        risk.Limits
}

// Plan returns the order for sig, or nil with a short reason.
func (p Planner) Plan(sig signal.Signal, symbol string, equity, position float64) (*Order, string) {
	price := sig.Current
	switch sig.Action {
	case signal.Buy:
		if position != 0 {
			return nil, "already positioned"
		}
		if price <= 0 {
			return nil, "no reference price"
		}
		px := decimal.NewFromFloat(price)
		qty := decimal.NewFromFloat(equity).
			Mul(decimal.NewFromFloat(p.OrderFraction)).
			Div(px).
			Floor()
		if !qty.IsPositive() {
			return nil, "order size not positive"
		}
		notional, _ := qty.Mul(px).Float64()
		if !p.Limits.Allow(notional) {
			return nil, "notional above per-trade limit"
		}
		one := decimal.NewFromInt(1)
		stop, _ := px.Mul(one.Sub(decimal.NewFromFloat(p.StopLossPct))).Round(pricePlaces).Float64()
		take, _ := px.Mul(one.Add(decimal.NewFromFloat(p.TakeProfitPct))).Round(pricePlaces).Float64()
		return &Order{
			Symbol:      symbol,
			Side:        Buy,
			Qty:         float64(qty.IntPart()),
			Price:       price,
			TimeInForce: Day,
			StopLoss:    stop,
			TakeProfit:  take,
		}, ""

	case signal.Sell:
		if position <= 0 {
			return nil, "no long position to close"
		}
		return &Order{
			Symbol:      symbol,
			Side:        Sell,
			Qty:         position,
			Price:       price,
			TimeInForce: IOC,
		}, ""
	}
	return nil, "hold"
}
