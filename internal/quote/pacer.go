package quote

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer spaces out interactions so that a session types and clicks at a
// human pace.
type Pacer interface {
	Pause(ctx context.Context, min, max time.Duration) error
}

// JitterPacer sleeps for a uniformly random duration in [min, max].
type JitterPacer struct{}

func (JitterPacer) Pause(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int64N(int64(max-min) + 1))
	}
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

// NoPacer never sleeps.
type NoPacer struct{}

func (NoPacer) Pause(ctx context.Context, min, max time.Duration) error {
	return ctx.Err()
}
