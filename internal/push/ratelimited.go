package push

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/accountability-dispatch/internal/ratelimit"
)

// RateLimitedTransport waits for the shared push bucket before every send.
type RateLimitedTransport struct {
	next    Transport
	limiter ratelimit.RateLimiter
}

func NewRateLimitedTransport(next Transport, limiter ratelimit.RateLimiter) (*RateLimitedTransport, error) {
	if next == nil {
		return nil, fmt.Errorf("push transport is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	return &RateLimitedTransport{next: next, limiter: limiter}, nil
}

func (t *RateLimitedTransport) Send(ctx context.Context, destination string, payload Payload) error {
	if err := t.limiter.Wait(ctx, ratelimit.BucketPush); err != nil {
		return &Error{Message: "push rate limit wait failed", Transient: true, Cause: err}
	}
	return t.next.Send(ctx, destination, payload)
}
