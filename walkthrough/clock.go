package walkthrough

import (
	"context"
	"time"
)

// FrameClock stands in for the display refresh callback. Frames delivers one
// timestamp per frame until ctx ends or the clock stops.
type FrameClock interface {
	Frames(ctx context.Context) <-chan time.Time
}

// TickerClock paces frames at a fixed interval. A tick that arrives while the
// previous frame is still running is dropped, the way a display callback
// coalesces missed refreshes.
type TickerClock struct {
	Interval time.Duration
}

func (c TickerClock) Frames(ctx context.Context) <-chan time.Time {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}
	out := make(chan time.Time)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				select {
				case out <- now:
				default:
				}
			}
		}
	}()
	return out
}

// ManualClock hands out whatever is sent on C.
type ManualClock struct {
	C chan time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{C: make(chan time.Time)}
}

func (c *ManualClock) Frames(ctx context.Context) <-chan time.Time {
	return c.C
}
