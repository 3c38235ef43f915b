package quota

import (
	"context"

	domusage "github.com/kailas-cloud/pixelquota/internal/domain/usage"
)

// Repository is the storage contract for usage records.
// Mutations live in memory until Persist succeeds.
type Repository interface {
	Get(ctx context.Context, email string) (domusage.Record, error)
	Create(ctx context.Context, email string) (created bool, err error)
	Upsert(ctx context.Context, rec domusage.Record) error
	Persist(ctx context.Context) error
}
