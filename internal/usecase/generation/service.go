package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	domgen "github.com/kailas-cloud/pixelquota/internal/domain/generation"
	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
	"github.com/kailas-cloud/pixelquota/internal/metrics"
	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// Defaults for the provider rate limit.
const (
	DefaultRequestsPerMinute = 10
	DefaultMaxWait           = 10 * time.Second
)

const warnNotRecorded = "the image was generated but could not be counted against your quota"

// Config holds generation settings.
type Config struct {
	RequestsPerMinute int
	Burst             int
	// MaxWait bounds how long a request queues for a rate limit slot.
	MaxWait time.Duration
}

// Result is a generated image plus the quota left after it.
type Result struct {
	Image   domgen.Image
	Quota   quota.Quota
	Warning string
}

// Service runs a generation behind the quota gate and the provider rate limit.
//
// Generations of the session run one at a time: the quota check, the provider
// call and the recording form one critical section, so concurrent requests
// cannot both spend the last generation.
type Service struct {
	gen     Generator
	session Session
	slot    chan struct{}
	limiter *rate.Limiter
	maxWait time.Duration
	logger  *zap.Logger
}

// New creates a generation service.
func New(gen Generator, sess Session, cfg Config, logger *zap.Logger) *Service {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Service{
		gen:     gen,
		session: sess,
		slot:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		maxWait: maxWait,
		logger:  logger,
	}
}

// Generate validates the request, checks the quota, calls the provider and
// records the generation. Provider errors are returned as-is, without retry.
// A failure to save usage after a successful generation is reported as a
// warning on the result. An exhausted quota at recording time fails the call.
func (s *Service) Generate(ctx context.Context, prompt, aspectRatio string) (Result, error) {
	prompt, err := domgen.ValidatePrompt(prompt)
	if err != nil {
		metrics.GenerationOutcomesTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}
	ratio, err := domgen.ParseAspectRatio(aspectRatio)
	if err != nil {
		metrics.GenerationOutcomesTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	if err := s.acquire(ctx); err != nil {
		metrics.GenerationOutcomesTotal.WithLabelValues("canceled").Inc()
		return Result{}, err
	}
	defer s.release()

	if err := s.session.CheckQuota(ctx); err != nil {
		metrics.GenerationOutcomesTotal.WithLabelValues(outcomeOf(err)).Inc()
		return Result{}, err
	}

	if err := s.wait(ctx); err != nil {
		metrics.GenerationOutcomesTotal.WithLabelValues("rate_limited").Inc()
		return Result{}, err
	}

	start := time.Now()
	img, err := s.gen.Generate(ctx, prompt, ratio)
	if err != nil {
		metrics.GenerationOutcomesTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	res := Result{Image: img}
	switch err := s.session.OnGenerationSuccess(ctx); {
	case err == nil:
	case errors.Is(err, domain.ErrPersist):
		res.Warning = session.PersistWarning
	case errors.Is(err, domain.ErrQuotaExhausted):
		metrics.GenerationOutcomesTotal.WithLabelValues("quota_exhausted").Inc()
		s.logger.Warn("Quota exhausted while generating, image discarded", zap.String("op", "record_generation"))
		return Result{}, err
	default:
		res.Warning = warnNotRecorded
		s.logger.Error("Generation not recorded", zap.String("op", "record_generation"), zap.Error(err))
	}

	res.Quota = s.session.CurrentQuota()
	if res.Quota.IsUntracked() && res.Warning == "" {
		res.Warning = session.DegradedWarning
	}

	outcome := "ok"
	if res.Quota.IsUntracked() {
		outcome = "untracked"
	}
	metrics.GenerationOutcomesTotal.WithLabelValues(outcome).Inc()

	s.logger.Info("Image generated",
		zap.String("aspect_ratio", string(ratio)),
		zap.Int("prompt_length", len(prompt)),
		zap.Stringer("quota", res.Quota),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for generation slot: %w", ctx.Err())
	}
}

func (s *Service) release() { <-s.slot }

func (s *Service) wait(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("image provider busy, try again shortly: %w", domain.ErrRateLimited)
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuotaExhausted):
		return "quota_exhausted"
	case errors.Is(err, domain.ErrNotSignedIn), errors.Is(err, domain.ErrMissingEmail):
		return "not_signed_in"
	default:
		return "error"
	}
}
