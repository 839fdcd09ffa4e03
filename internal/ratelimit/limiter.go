package ratelimit

import "context"

// Buckets shared by every instance throttling the same downstream.
const (
	BucketPush  = "push"
	BucketMedia = "media"
)

// RateLimiter controls outbound throughput per bucket.
type RateLimiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
