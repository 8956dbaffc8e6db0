// Package paper simulates the brokerage boundary in-process so the agent can run without a live account.
package paper

import (
	"errors"
	"sync"

	"fxagent-go/internal/execution"
)

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(execution.Fill)
}

// Recorders fans a fill out to several recorders.
type Recorders []FillRecorder

func (rs Recorders) Record(fill execution.Fill) {
	for _, r := range rs {
		r.Record(fill)
	}
}

const epsilon = 1e-9

var (
	ErrInsufficientCash     = errors.New("insufficient cash for buy")
	ErrInsufficientPosition = errors.New("insufficient position to sell")
)

type lot struct {
	qty        float64
	avgCost    float64
	stopLoss   float64
	takeProfit float64
}

// Account tracks virtual cash, realized PnL, and per-symbol long positions with optional bracket levels.
type Account struct {
	mu          sync.Mutex
	cash        float64
	realizedPnL float64
	lots        map[string]lot
}

// NewAccount constructs an account funded with startingCash.
func NewAccount(startingCash float64) *Account {
	return &Account{cash: startingCash, lots: make(map[string]lot)}
}

// Buy adds qty at price to the symbol's long position and replaces its bracket levels.
func (a *Account) Buy(symbol string, qty, price, stopLoss, takeProfit float64) error {
	if qty <= 0 || price <= 0 {
		return errors.New("quantity and price must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	notional := qty * price
	if notional > a.cash+epsilon {
		return ErrInsufficientCash
	}
	cur := a.lots[symbol]
	newQty := cur.qty + qty
	a.lots[symbol] = lot{
		qty:        newQty,
		avgCost:    (cur.avgCost*cur.qty + notional) / newQty,
		stopLoss:   stopLoss,
		takeProfit: takeProfit,
	}
	a.cash -= notional
	return nil
}

// Sell reduces the symbol's long position, realizing PnL against the average cost.
func (a *Account) Sell(symbol string, qty, price float64) error {
	if qty <= 0 || price <= 0 {
		return errors.New("quantity and price must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sellLocked(symbol, qty, price)
}

func (a *Account) sellLocked(symbol string, qty, price float64) error {
	cur, ok := a.lots[symbol]
	if !ok || cur.qty+epsilon < qty {
		return ErrInsufficientPosition
	}
	a.realizedPnL += (price - cur.avgCost) * qty
	a.cash += qty * price
	if cur.qty-qty <= epsilon {
		delete(a.lots, symbol)
		return nil
	}
	cur.qty -= qty
	a.lots[symbol] = cur
	return nil
}

// TriggerBrackets closes the whole position when price crosses its stop-loss or take-profit level.
// It returns the closed quantity, or 0 when nothing triggered.
func (a *Account) TriggerBrackets(symbol string, price float64) float64 {
	if price <= 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.lots[symbol]
	if !ok {
		return 0
	}
	hitStop := cur.stopLoss > 0 && price <= cur.stopLoss
	hitTake := cur.takeProfit > 0 && price >= cur.takeProfit
	if !hitStop && !hitTake {
		return 0
	}
	qty := cur.qty
	if err := a.sellLocked(symbol, qty, price); err != nil {
		return 0
	}
	return qty
}

// Equity marks open positions with the supplied prices; unmarked positions count at cost.
func (a *Account) Equity(marks map[string]float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	equity := a.cash
	for sym, l := range a.lots {
		px := marks[sym]
		if px <= 0 {
			px = l.avgCost
		}
		equity += l.qty * px
	}
	return equity
}

// Cash reports free cash.
func (a *Account) Cash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the current long quantity for symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lots[symbol].qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}

// Symbols lists symbols with an open position.
func (a *Account) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.lots))
	for sym := range a.lots {
		out = append(out, sym)
	}
	return out
}
