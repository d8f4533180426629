package ratelimit

import "context"

// RateLimiter throttles gateway calls per notification kind.
type RateLimiter interface {
	Wait(ctx context.Context, kind string) error
}

// Unlimited admits every call. It is used when no Redis is configured.
type Unlimited struct{}

var _ RateLimiter = Unlimited{}

func (Unlimited) Wait(ctx context.Context, kind string) error { return ctx.Err() }
