package session

import (
	"context"

	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
)

// Identity is a signed-in user as reported by the identity provider.
type Identity struct {
	UID   string
	Email string
}

// AuthStream delivers sign-in and sign-out events in emission order.
// A nil identity means sign-out. The callback must not block.
type AuthStream interface {
	Subscribe(fn func(*Identity)) (unsubscribe func())
}

// Engine is the quota engine as seen by the adapter.
type Engine interface {
	ResolveQuota(ctx context.Context, email, today string) (quota.Quota, error)
	Decrement(ctx context.Context, email, today string) (quota.Quota, error)
	// Unsaved reports whether changes are still missing from the persisted snapshot.
	Unsaved() bool
}

// InitFunc opens the usage store and builds the quota engine.
// It runs once, before any auth event is serviced.
type InitFunc func(ctx context.Context) (Engine, error)
