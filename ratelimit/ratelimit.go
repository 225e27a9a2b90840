// Package ratelimit provides per-client token buckets for the HTTP layer.
package ratelimit

import "context"

// Limiter decides whether the client identified by key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
