package pixelquota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/db"
	dbFile "github.com/kailas-cloud/pixelquota/internal/db/file"
	dbMemory "github.com/kailas-cloud/pixelquota/internal/db/memory"
	dbRedis "github.com/kailas-cloud/pixelquota/internal/db/redis"
	domquota "github.com/kailas-cloud/pixelquota/internal/domain/quota"
	domusage "github.com/kailas-cloud/pixelquota/internal/domain/usage"
	usagerepo "github.com/kailas-cloud/pixelquota/internal/repository/usage"
	healthuc "github.com/kailas-cloud/pixelquota/internal/usecase/health"
	quotauc "github.com/kailas-cloud/pixelquota/internal/usecase/quota"
)

const defaultReadinessTimeout = 10 * time.Second

// Internal interface for substitution in tests.
type quotaUseCase interface {
	ResolveQuota(ctx context.Context, email, today string) (domquota.Quota, error)
	Decrement(ctx context.Context, email, today string) (domquota.Quota, error)
	Report(ctx context.Context, email string) (domusage.Report, error)
	Today() string
}

// Client is the pixelquota SDK entry point.
type Client struct {
	store     db.Store
	usage     *usagerepo.Store
	quotaSvc  quotaUseCase
	healthSvc healthUseCase
	obs       *observer
}

// New opens the byte storage, loads the usage snapshot and builds the quota
// engine. The provided context is used for the readiness check and the load.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.driver == "" {
		return nil, errors.New("pixelquota: storage required (use WithDir, WithValkey, WithRedis or WithMemory)")
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("pixelquota: storage not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}

	c, err := wireClient(ctx, store, cfg, obs)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "file":
		s, err := dbFile.NewStore(cfg.dir)
		if err != nil {
			return nil, fmt.Errorf("pixelquota: create file store: %w", err)
		}
		return s, nil
	case "memory":
		return dbMemory.NewStore(), nil
	case "valkey", "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("pixelquota: create %s store: %w", cfg.driver, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("pixelquota: unknown driver %q", cfg.driver)
	}
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig, obs *observer) (*Client, error) {
	// Internal components log through zap; SDK users get slog via the observer.
	logger := zap.NewNop()

	usage, err := usagerepo.Open(ctx, store, cfg.key, logger)
	if err != nil {
		return nil, fmt.Errorf("pixelquota: %w", err)
	}

	svc := quotauc.New(usage, quotauc.Config{
		DailyLimit:      cfg.dailyLimit,
		UnlimitedEmails: cfg.unlimitedEmails,
		Location:        cfg.location,
	}, logger)
	if cfg.clock != nil {
		svc = svc.WithClock(cfg.clock)
	}

	healthSvc := healthuc.New(store, nil, nil)
	healthSvc.SetStore(usage)

	return &Client{
		store:     store,
		usage:     usage,
		quotaSvc:  svc,
		healthSvc: healthSvc,
		obs:       obs,
	}, nil
}

// Close releases all resources. Changes not yet persisted are lost.
func (c *Client) Close() {
	if c.usage != nil {
		_ = c.usage.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks storage connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", "", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Quota returns the user's remaining generations for today.
// A first-seen user gets a record with nothing used.
func (c *Client) Quota(ctx context.Context, email string) (q Quota, err error) {
	start := time.Now()
	defer func() { c.obs.observe("quota", email, start, err) }()

	dq, err := c.quotaSvc.ResolveQuota(ctx, email, c.quotaSvc.Today())
	if err != nil && !errors.Is(err, ErrPersist) {
		return Quota{}, fmt.Errorf("resolve quota: %w", err)
	}
	return fromDomainQuota(dq), err
}

// Consume records one generation and returns the new quota.
//
// ErrQuotaExhausted is returned, with a zero quota, when nothing is left.
// An error matching ErrPersist means the generation was counted in memory
// but the snapshot was not saved; the returned quota is still valid.
func (c *Client) Consume(ctx context.Context, email string) (q Quota, err error) {
	start := time.Now()
	defer func() { c.obs.observe("consume", email, start, err) }()

	dq, err := c.quotaSvc.Decrement(ctx, email, c.quotaSvc.Today())
	if err != nil && !errors.Is(err, ErrPersist) && !errors.Is(err, ErrQuotaExhausted) {
		return Quota{}, fmt.Errorf("consume quota: %w", err)
	}
	return fromDomainQuota(dq), err
}
