package pixelquota

import "github.com/kailas-cloud/pixelquota/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrQuotaExhausted = domain.ErrQuotaExhausted
	ErrMissingEmail   = domain.ErrMissingEmail
	ErrStoreInit      = domain.ErrStoreInit
	ErrPersist        = domain.ErrPersist
)
