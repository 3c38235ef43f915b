package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	domquota "github.com/kailas-cloud/pixelquota/internal/domain/quota"
	domusage "github.com/kailas-cloud/pixelquota/internal/domain/usage"
	"github.com/kailas-cloud/pixelquota/internal/metrics"
)

// DefaultDailyLimit is the number of generations a user gets per calendar day.
const DefaultDailyLimit = 5

// Config holds quota engine settings.
type Config struct {
	DailyLimit      int
	UnlimitedEmails []string
	// Location decides where a calendar day starts. Nil means time.Local.
	Location *time.Location
}

// Service turns day boundaries and generation events into usage record
// reads and writes.
//
// All read-modify-write sequences run under one mutex, so decrements for the
// same user never interleave inside this process. Nothing coordinates two
// processes sharing the same snapshot: they race last-write-wins.
type Service struct {
	mu        sync.Mutex
	repo      Repository
	limit     int
	unlimited map[string]struct{}
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
	// unsaved is set while the live store holds changes the last persist missed.
	unsaved bool
}

// New creates a quota engine.
func New(repo Repository, cfg Config, logger *zap.Logger) *Service {
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	unlimited := make(map[string]struct{}, len(cfg.UnlimitedEmails))
	for _, e := range cfg.UnlimitedEmails {
		if e = NormalizeEmail(e); e != "" {
			unlimited[e] = struct{}{}
		}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:      repo,
		limit:     limit,
		unlimited: unlimited,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock replaces the wall clock (tests, replays).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NormalizeEmail trims and lower-cases an email so one user maps to one record.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Limit returns the daily cap.
func (s *Service) Limit() int { return s.limit }

// Location returns the zone calendar days are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// Today returns the current calendar date in the engine's location.
func (s *Service) Today() string { return domquota.Today(s.now(), s.loc) }

// Unsaved reports whether the live store holds changes that no snapshot has
// captured yet.
func (s *Service) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// IsUnlimited reports whether email is on the operator allowlist.
func (s *Service) IsUnlimited(email string) bool {
	_, ok := s.unlimited[NormalizeEmail(email)]
	return ok
}

// ResolveQuota returns the remaining quota of email for today.
//
// A first-seen email gets an empty record, which is persisted. A record from
// an earlier day counts as a fresh day but is not rewritten; the rollover is
// written by the next Decrement. If persisting the new record fails, the
// full quota is still returned alongside a *domain.PersistError.
func (s *Service) ResolveQuota(ctx context.Context, email, today string) (domquota.Quota, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domquota.Quota{}, domain.ErrMissingEmail
	}
	if s.IsUnlimited(email) {
		metrics.QuotaDecisionsTotal.WithLabelValues("resolve", "unlimited").Inc()
		return domquota.Unlimited(s.limit), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.Get(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		created, err := s.repo.Create(ctx, email)
		if err != nil {
			s.fail("resolve", email, err)
			return domquota.Quota{}, fmt.Errorf("create usage record: %w", err)
		}
		q := domquota.Full(s.limit)
		if created {
			s.logger.Info("Usage record created", zap.String("email", email))
			if err := s.persist(ctx, "resolve", email); err != nil {
				return q, err
			}
		}
		metrics.QuotaDecisionsTotal.WithLabelValues("resolve", "ok").Inc()
		return q, nil
	}
	if err != nil {
		s.fail("resolve", email, err)
		return domquota.Quota{}, fmt.Errorf("read usage record: %w", err)
	}

	metrics.QuotaDecisionsTotal.WithLabelValues("resolve", "ok").Inc()
	return domquota.FromUsage(s.limit, rec.LastGenerationDate, today, rec.ImagesGeneratedToday), nil
}

// Decrement records one generation for email on today and returns the new quota.
//
// An exhausted quota fails with *domain.QuotaExhaustedError and nothing is
// written. The first generation of a new day resets the count to 1. When the
// snapshot cannot be persisted, the in-memory decrement stands: the new quota
// is returned together with a *domain.PersistError.
func (s *Service) Decrement(ctx context.Context, email, today string) (domquota.Quota, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domquota.Quota{}, domain.ErrMissingEmail
	}
	if s.IsUnlimited(email) {
		s.logger.Info("Generation by unlimited user", zap.String("email", email), zap.String("day", today))
		metrics.QuotaDecisionsTotal.WithLabelValues("decrement", "unlimited").Inc()
		return domquota.Unlimited(s.limit), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.Get(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		rec = domusage.Record{Email: email}
	} else if err != nil {
		s.fail("decrement", email, err)
		return domquota.Quota{}, fmt.Errorf("read usage record: %w", err)
	}

	current := domquota.FromUsage(s.limit, rec.LastGenerationDate, today, rec.ImagesGeneratedToday)
	if current.Remaining() <= 0 {
		metrics.QuotaDecisionsTotal.WithLabelValues("decrement", "exhausted").Inc()
		s.logger.Info("Daily quota exhausted",
			zap.String("email", email),
			zap.String("day", today),
			zap.Int("limit", s.limit),
		)
		return current, domain.NewQuotaExhausted(s.limit, domquota.NextReset(s.now(), s.loc))
	}

	if rec.LastGenerationDate == today {
		rec.ImagesGeneratedToday++
	} else {
		rec.LastGenerationDate = today
		rec.ImagesGeneratedToday = 1
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		s.fail("decrement", email, err)
		return current, fmt.Errorf("write usage record: %w", err)
	}

	next := domquota.FromUsage(s.limit, rec.LastGenerationDate, today, rec.ImagesGeneratedToday)
	metrics.QuotaDecisionsTotal.WithLabelValues("decrement", "ok").Inc()
	s.logger.Debug("Generation recorded",
		zap.String("email", email),
		zap.String("day", today),
		zap.Int("images_generated_today", rec.ImagesGeneratedToday),
		zap.Int("remaining", next.Remaining()),
	)

	if err := s.persist(ctx, "decrement", email); err != nil {
		return next, err
	}
	return next, nil
}

// Report returns the quota of email for the current day without creating a record.
func (s *Service) Report(ctx context.Context, email string) (domusage.Report, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return domusage.Report{}, domain.ErrMissingEmail
	}
	now := s.now()
	today := domquota.Today(now, s.loc)
	resetsAt := domquota.NextReset(now, s.loc)

	if s.IsUnlimited(email) {
		return domusage.NewReport(email, today, domquota.Unlimited(s.limit), resetsAt), nil
	}

	s.mu.Lock()
	rec, err := s.repo.Get(ctx, email)
	s.mu.Unlock()

	q := domquota.Full(s.limit)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return domusage.Report{}, fmt.Errorf("read usage record: %w", err)
	default:
		q = domquota.FromUsage(s.limit, rec.LastGenerationDate, today, rec.ImagesGeneratedToday)
	}
	return domusage.NewReport(email, today, q, resetsAt), nil
}

// persist saves the store snapshot. Must be called with s.mu held.
func (s *Service) persist(ctx context.Context, op, email string) error {
	if err := s.repo.Persist(ctx); err != nil {
		s.unsaved = true
		metrics.StorePersistTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Usage may not survive a restart: snapshot not saved",
			zap.String("op", op),
			zap.String("email", email),
			zap.Error(err),
		)
		var pe *domain.PersistError
		if errors.As(err, &pe) {
			return err
		}
		return &domain.PersistError{Err: err}
	}
	s.unsaved = false
	metrics.StorePersistTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) fail(op, email string, err error) {
	metrics.QuotaDecisionsTotal.WithLabelValues(op, "error").Inc()
	s.logger.Error("Quota engine failure",
		zap.String("op", op),
		zap.String("email", email),
		zap.Error(err),
	)
}
