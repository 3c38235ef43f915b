package health

import (
	"context"

	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// Pinger checks availability of a storage component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker checks image provider availability.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionReader exposes the session lifecycle state.
type SessionReader interface {
	Snapshot() session.Snapshot
}
