package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims a key for a commit attempt, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claimed key so a failed attempt can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
