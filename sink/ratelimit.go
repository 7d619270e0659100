package sink

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
	"i4.energy/across/smsrx/modem"
)

// ErrRateLimited is returned when a message is dropped by a RateLimited
// sink.
var ErrRateLimited = errors.New("rate limited")

// RateLimited forwards at most the limiter's rate of messages to Next.
// Messages over the limit are dropped with ErrRateLimited, never queued.
type RateLimited struct {
	Next    Sink
	Limiter *rate.Limiter
}

// NewRateLimited allows perMinute messages per minute with bursts of
// burst.
func NewRateLimited(next Sink, perMinute float64, burst int) *RateLimited {
	return &RateLimited{
		Next:    next,
		Limiter: rate.NewLimiter(rate.Limit(perMinute/60), burst),
	}
}

func (r *RateLimited) Deliver(ctx context.Context, msg *modem.Message) error {
	if !r.Limiter.Allow() {
		return ErrRateLimited
	}
	return r.Next.Deliver(ctx, msg)
}
