// Package retry provides the small generic retry-with-backoff helper the
// design document's §9 calls for ("Implement as a small generic helper;
// do not inline."), used by the orchestrator's block-put retry. The
// want-manager's per-peer send retry runs its own backoff loop instead.
package retry

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Config bounds a retry run: at most Attempts calls to fn, waiting an
// exponentially growing, capped delay between them.
type Config struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Factor   float64
}

// Do calls fn until it succeeds, returns a non-retryable decision via
// ctx cancellation, or Attempts is exhausted - whichever comes first. It
// returns the last error seen.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	b := &backoff.Backoff{
		Min:    cfg.Min,
		Max:    cfg.Max,
		Factor: cfg.Factor,
	}
	if b.Factor == 0 {
		b.Factor = 2
	}

	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == cfg.Attempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
