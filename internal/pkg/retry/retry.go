package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sleeper blocks for the given duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc is an adapter to allow the use of ordinary functions as Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper waits on a time.Timer and returns ctx.Err() when the context
// is canceled before the timer fires.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval is a delay drawn uniformly from [Min, Max].
// A fixed delay has Min == Max.
type Interval struct {
	Min time.Duration
	Max time.Duration
}

// Fixed returns an Interval which always yields d.
func Fixed(d time.Duration) Interval {
	return Interval{Min: d, Max: d}
}

// Between returns an Interval in range [lo, hi].
func Between(lo, hi time.Duration) Interval {
	if hi < lo {
		lo, hi = hi, lo
	}
	return Interval{Min: lo, Max: hi}
}

// Draw picks a duration from the interval. Nil rng falls back to
// the package level generator.
func (i Interval) Draw(rng *rand.Rand) time.Duration {
	if i.Max <= i.Min {
		return i.Min
	}

	span := int64(i.Max - i.Min)
	var n int64
	if rng != nil {
		n = rng.Int64N(span + 1)
	} else {
		n = rand.Int64N(span + 1)
	}

	return i.Min + time.Duration(n)
}

// Budget bounds the number of attempts made by a polling loop
// and the delay between them.
type Budget struct {
	MaxAttempts int
	Interval    Interval
}

// Exhausted reports whether attempt (1-based) is the last allowed one.
func (b Budget) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
