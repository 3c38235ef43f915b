// Package session bridges the auth event stream into the quota engine and
// exposes the current user and quota as a reactive value.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
	"github.com/kailas-cloud/pixelquota/internal/metrics"
)

// DegradedWarning is attached to every snapshot while usage is not tracked.
const DegradedWarning = "usage tracking is unavailable: generations are allowed but not counted"

// PersistWarning is attached when usage could not be saved.
const PersistWarning = "your usage may not be saved across restarts"

// Config holds adapter settings.
type Config struct {
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Location decides the calendar day. Nil means time.Local.
	Location *time.Location
	// DailyLimit is reported by untracked and missing-email quotas.
	DailyLimit int
}

type authEvent struct {
	identity *Identity
}

// Adapter owns the session state machine.
//
// Auth events are queued in emission order and serviced by a single worker
// that starts only after the store init resolves. Quota resolution runs in
// its own goroutine; every auth event bumps an epoch so a result computed for
// an earlier event is dropped.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	qmu     sync.Mutex
	pending []authEvent
	notify  chan struct{}

	mu       sync.Mutex
	engine   Engine
	degraded bool
	epoch    uint64
	snap     Snapshot
	watchers map[int]chan Snapshot
	nextW    int

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an adapter in the Uninitialized state.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Adapter{
		cfg:      cfg,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		snap:     Snapshot{State: StateUninitialized, UpdatedAt: cfg.Clock()},
		watchers: make(map[int]chan Snapshot),
	}
}

// Start subscribes to the auth stream immediately and runs init in the
// background. Events received before init resolves are held back.
func (a *Adapter) Start(ctx context.Context, stream AuthStream, init InitFunc) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.unsubscribe = stream.Subscribe(a.enqueue)

	a.wg.Add(1)
	go a.run(ctx, init)
}

// Stop unsubscribes from the auth stream and waits for in-flight work.
func (a *Adapter) Stop() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, ch := range a.watchers {
		close(ch)
		delete(a.watchers, id)
	}
}

func (a *Adapter) enqueue(id *Identity) {
	var ev authEvent
	if id != nil {
		cp := *id
		ev.identity = &cp
	}
	a.qmu.Lock()
	a.pending = append(a.pending, ev)
	a.qmu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *Adapter) dequeue() (authEvent, bool) {
	a.qmu.Lock()
	defer a.qmu.Unlock()
	if len(a.pending) == 0 {
		return authEvent{}, false
	}
	ev := a.pending[0]
	a.pending = a.pending[1:]
	return ev, true
}

func (a *Adapter) run(ctx context.Context, init InitFunc) {
	defer a.wg.Done()

	engine, err := init(ctx)

	a.mu.Lock()
	if err != nil {
		a.degraded = true
		a.snap.Degraded = true
		a.snap.Warning = DegradedWarning
		a.snap.Err = err
		a.logger.Error("Usage store unavailable, quota is not tracked", zap.String("op", "init"), zap.Error(err))
	} else {
		a.engine = engine
		a.logger.Info("Usage store ready")
	}
	a.snap.State = StateReady
	a.publishLocked()
	a.mu.Unlock()

	for {
		for {
			ev, ok := a.dequeue()
			if !ok {
				break
			}
			a.handle(ctx, ev)
		}
		select {
		case <-ctx.Done():
			return
		case <-a.notify:
		}
	}
}

func (a *Adapter) handle(ctx context.Context, ev authEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.epoch++

	if ev.identity == nil {
		if a.snap.User != nil {
			a.logger.Info("User signed out", zap.String("email", a.snap.User.Email))
		}
		a.snap.User = nil
		a.snap.State = StateReady
		if !a.degraded {
			a.snap.Err = nil
		}
		a.publishLocked()
		return
	}

	id := *ev.identity
	user := &User{UID: id.UID, Email: strings.TrimSpace(id.Email)}
	if prev := a.snap.User; prev != nil && prev.UID == id.UID {
		user.SessionID = prev.SessionID
	} else {
		user.SessionID = uuid.NewString()
	}

	switch {
	case a.degraded:
		user.Quota = quota.Untracked(a.cfg.DailyLimit)
		a.snap.User = user
		a.snap.State = StateReady
		a.logger.Info("User signed in, quota untracked", zap.String("email", user.Email))
		a.publishLocked()
		return

	case user.Email == "":
		user.Quota = quota.New(a.cfg.DailyLimit, 0)
		a.snap.User = user
		a.snap.State = StateReady
		a.snap.Err = domain.ErrMissingEmail
		a.logger.Warn("Signed-in identity has no email, quota cannot be tracked", zap.String("uid", user.UID))
		a.publishLocked()
		return
	}

	a.snap.User = user
	a.snap.State = StateResolving
	a.snap.Err = nil
	a.publishLocked()

	epoch := a.epoch
	engine := a.engine
	u := *user
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		q, err := engine.ResolveQuota(ctx, u.Email, a.today())
		a.applyResolve(epoch, u, q, err)
	}()
}

// applyResolve installs a resolve result unless a later event superseded it.
func (a *Adapter) applyResolve(epoch uint64, u User, q quota.Quota, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.snap.User
	if a.epoch != epoch || cur == nil || cur.UID != u.UID {
		a.logger.Debug("Discarding stale quota resolution",
			zap.String("email", u.Email),
			zap.Uint64("epoch", epoch),
			zap.Uint64("current_epoch", a.epoch),
		)
		return
	}

	next := *cur
	switch {
	case err == nil:
		next.Quota = q
		a.snap.Err = nil
		a.syncDurabilityLocked()
	case errors.Is(err, domain.ErrPersist):
		next.Quota = q
		a.snap.DurabilityUncertain = true
		a.snap.Warning = PersistWarning
		a.snap.Err = err
	default:
		next.Quota = quota.New(a.cfg.DailyLimit, 0)
		a.snap.Err = err
		a.logger.Error("Quota resolution failed",
			zap.String("op", "resolve"),
			zap.String("email", u.Email),
			zap.Error(err),
		)
	}
	a.snap.User = &next
	a.snap.State = StateReady
	a.publishLocked()
}

// Snapshot returns a copy of the current session value.
func (a *Adapter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap.clone()
}

// Watch returns a channel carrying the latest snapshot. Slow readers skip
// intermediate values. The current value is delivered first.
func (a *Adapter) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	a.mu.Lock()
	id := a.nextW
	a.nextW++
	a.watchers[id] = ch
	ch <- a.snap.clone()
	a.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if _, ok := a.watchers[id]; ok {
				delete(a.watchers, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// CurrentQuota returns the quota of the signed-in user, or the zero quota.
func (a *Adapter) CurrentQuota() quota.Quota {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snap.User == nil {
		return quota.Quota{}
	}
	return a.snap.User.Quota
}

// CheckQuota is the pre-generation gate. While the quota is still resolving
// it asks the engine directly.
func (a *Adapter) CheckQuota(ctx context.Context) error {
	a.mu.Lock()
	user := a.snap.User
	switch {
	case user == nil:
		a.mu.Unlock()
		return domain.ErrNotSignedIn
	case a.degraded:
		a.mu.Unlock()
		return nil
	case user.Email == "":
		a.mu.Unlock()
		return domain.ErrMissingEmail
	}
	q := user.Quota
	resolving := a.snap.State == StateResolving
	email := user.Email
	engine := a.engine
	a.mu.Unlock()

	if resolving {
		var err error
		q, err = engine.ResolveQuota(ctx, email, a.today())
		if err != nil && !errors.Is(err, domain.ErrPersist) {
			return err
		}
	}
	if q.IsExhausted() {
		return domain.NewQuotaExhausted(q.Limit(), quota.NextReset(a.cfg.Clock(), a.cfg.Location))
	}
	return nil
}

// OnGenerationSuccess records one generation for the signed-in user.
//
// A *domain.PersistError is returned while the new quota is still applied and
// DurabilityUncertain is set. Exhaustion zeroes the quota and is returned.
func (a *Adapter) OnGenerationSuccess(ctx context.Context) error {
	a.mu.Lock()
	user := a.snap.User
	switch {
	case user == nil:
		a.mu.Unlock()
		return domain.ErrNotSignedIn
	case a.degraded:
		a.logger.Info("Untracked generation", zap.String("email", user.Email))
		a.mu.Unlock()
		return nil
	case user.Email == "":
		a.mu.Unlock()
		return domain.ErrMissingEmail
	}
	u := *user
	engine := a.engine
	a.mu.Unlock()

	q, err := engine.Decrement(ctx, u.Email, a.today())

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.snap.User
	if cur == nil || cur.SessionID != u.SessionID {
		a.logger.Debug("User changed during decrement, snapshot not updated", zap.String("email", u.Email))
		return err
	}

	next := *cur
	switch {
	case err == nil:
		next.Quota = q
		a.snap.Err = nil
		a.syncDurabilityLocked()
	case errors.Is(err, domain.ErrPersist):
		next.Quota = q
		a.snap.DurabilityUncertain = true
		a.snap.Warning = PersistWarning
		a.snap.Err = err
	case errors.Is(err, domain.ErrQuotaExhausted):
		next.Quota = quota.New(q.Limit(), 0)
		a.snap.Err = err
	default:
		a.snap.Err = err
		a.logger.Error("Recording generation failed",
			zap.String("op", "decrement"),
			zap.String("email", u.Email),
			zap.Error(err),
		)
	}
	// A decrement result is newer than any resolve still in flight.
	a.epoch++
	a.snap.User = &next
	a.snap.State = StateReady
	a.publishLocked()
	return err
}

// Refresh re-resolves the quota of the signed-in user.
func (a *Adapter) Refresh(ctx context.Context) error {
	a.mu.Lock()
	user := a.snap.User
	switch {
	case user == nil:
		a.mu.Unlock()
		return domain.ErrNotSignedIn
	case a.degraded:
		a.mu.Unlock()
		return nil
	case user.Email == "":
		a.mu.Unlock()
		return domain.ErrMissingEmail
	}
	a.epoch++
	epoch := a.epoch
	u := *user
	engine := a.engine
	a.mu.Unlock()

	q, err := engine.ResolveQuota(ctx, u.Email, a.today())
	a.applyResolve(epoch, u, q, err)
	return err
}

// syncDurabilityLocked clears the durability warning once the engine reports
// every change saved. Must be called with a.mu held.
func (a *Adapter) syncDurabilityLocked() {
	if !a.snap.DurabilityUncertain || a.engine.Unsaved() {
		return
	}
	a.snap.DurabilityUncertain = false
	if a.snap.Warning == PersistWarning {
		a.snap.Warning = ""
	}
}

func (a *Adapter) today() string {
	return quota.Today(a.cfg.Clock(), a.cfg.Location)
}

// publishLocked stamps the snapshot and fans it out. Must be called with a.mu held.
func (a *Adapter) publishLocked() {
	a.snap.Version++
	a.snap.UpdatedAt = a.cfg.Clock()

	switch {
	case a.snap.User == nil:
		metrics.SessionQuotaRemaining.Set(0)
	case a.snap.User.Quota.IsUnlimited() || a.snap.User.Quota.IsUntracked():
		metrics.SessionQuotaRemaining.Set(-1)
	default:
		metrics.SessionQuotaRemaining.Set(float64(a.snap.User.Quota.Remaining()))
	}

	for _, ch := range a.watchers {
		s := a.snap.clone()
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
