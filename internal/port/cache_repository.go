package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency drops the key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// SetStock publishes the recomputed stock for display
	SetStock(ctx context.Context, productID string, stock int) error

	// GetStock returns the cached stock, ok=false on miss
	GetStock(ctx context.Context, productID string) (int, bool, error)
}
