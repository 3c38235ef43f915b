package health

import (
	"context"
	"sync"

	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckPending indicates a component that is still starting.
	CheckPending CheckResult = "pending"
	// CheckUntracked indicates usage is not being counted.
	CheckUntracked CheckResult = "untracked"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	storage  Pinger
	provider ProviderChecker
	session  SessionReader

	mu    sync.RWMutex
	store Pinger
}

// New creates a Service. provider and sess can be nil.
func New(storage Pinger, provider ProviderChecker, sess SessionReader) *Service {
	return &Service{storage: storage, provider: provider, session: sess}
}

// SetStore registers the usage store once it has been opened.
func (s *Service) SetStore(store Pinger) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// Check runs health checks against all components.
//
// A failing byte storage makes the service unhealthy: nothing can be saved.
// Untracked usage and provider failures only degrade it.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if err := s.storage.Ping(ctx); err != nil {
		checks["storage"] = CheckError
		status = Unhealthy
	} else {
		checks["storage"] = CheckOK
	}

	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	var snap session.Snapshot
	if s.session != nil {
		snap = s.session.Snapshot()
	}

	switch {
	case snap.Degraded:
		checks["usage_tracking"] = CheckUntracked
	case store == nil:
		checks["usage_tracking"] = CheckPending
	default:
		if err := store.Ping(ctx); err != nil {
			checks["usage_tracking"] = CheckError
		} else {
			checks["usage_tracking"] = CheckOK
		}
	}

	if s.provider != nil {
		if err := s.provider.HealthCheck(ctx); err != nil {
			checks["image_provider"] = CheckError
		} else {
			checks["image_provider"] = CheckOK
		}
	}

	if status == Healthy {
		for _, v := range checks {
			if v != CheckOK {
				status = Degraded
				break
			}
		}
	}

	return Report{Status: status, Checks: checks}
}
