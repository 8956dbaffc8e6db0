package agent

import (
	"context"
	"fmt"
	"time"
)

// MarketClock reports whether the traded market is open.
type MarketClock interface {
	IsOpen(ctx context.Context) (bool, error)
}

// AlwaysOpen never gates the loop.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(context.Context) (bool, error) { return true, nil }

// ForexClock treats the spot FX week as running from Sunday 22:00 UTC to Friday 22:00 UTC.
type ForexClock struct {
	Now func() time.Time
}

func (c ForexClock) IsOpen(context.Context) (bool, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().UTC()
	switch t.Weekday() {
	case time.Saturday:
		return false, nil
	case time.Friday:
		return t.Hour() < 22, nil
	case time.Sunday:
		return t.Hour() >= 22, nil
	default:
		return true, nil
	}
}

// ClockFor returns the clock named by the agent.market_hours setting.
func ClockFor(name string) (MarketClock, error) {
	switch name {
	case "", "always":
		return AlwaysOpen{}, nil
	case "forex":
		return ForexClock{}, nil
	default:
		return nil, fmt.Errorf("unknown market hours %q", name)
	}
}
