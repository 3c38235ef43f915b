package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/db/memory"
	"github.com/kailas-cloud/pixelquota/internal/domain"
	domusage "github.com/kailas-cloud/pixelquota/internal/domain/usage"
	repousage "github.com/kailas-cloud/pixelquota/internal/repository/usage"
)

const (
	day1 = "2024-01-01"
	day2 = "2024-01-02"
)

func newTestService(t *testing.T, cfg Config) (*Service, *repousage.Store, *memory.Store) {
	t.Helper()
	storage := memory.NewStore()
	store, err := repousage.Open(context.Background(), storage, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	svc := New(store, cfg, zap.NewNop())
	return svc, store, storage
}

func TestResolveQuota_FirstSeenCreatesRecord(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	q, err := svc.ResolveQuota(ctx, "a@example.com", day1)
	if err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	if q.Remaining() != 5 {
		t.Errorf("remaining = %d, want 5", q.Remaining())
	}

	rec, err := store.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.HasGenerated() || rec.ImagesGeneratedToday != 0 {
		t.Errorf("fresh record = %+v", rec)
	}
}

func TestResolveQuota_Idempotent(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q, err := svc.ResolveQuota(ctx, "a@example.com", day1)
		if err != nil {
			t.Fatalf("ResolveQuota #%d: %v", i, err)
		}
		if q.Remaining() != 5 {
			t.Errorf("ResolveQuota #%d remaining = %d", i, q.Remaining())
		}
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected exactly 1 record, got %d", len(records))
	}
}

func TestResolveQuota_NormalizesEmail(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	if _, err := svc.ResolveQuota(ctx, "  A@Example.COM ", day1); err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	if _, err := store.Get(ctx, "a@example.com"); err != nil {
		t.Errorf("expected normalized record: %v", err)
	}
}

func TestResolveQuota_EmptyEmail(t *testing.T) {
	svc, _, _ := newTestService(t, Config{DailyLimit: 5})

	_, err := svc.ResolveQuota(context.Background(), "   ", day1)
	if !errors.Is(err, domain.ErrMissingEmail) {
		t.Errorf("expected ErrMissingEmail, got %v", err)
	}
}

func TestResolveQuota_NewDayDoesNotMutate(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	prev := domusage.Record{Email: "a@example.com", LastGenerationDate: day1, ImagesGeneratedToday: 5}
	if err := store.Upsert(ctx, prev); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	q, err := svc.ResolveQuota(ctx, "a@example.com", day2)
	if err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	if q.Remaining() != 5 {
		t.Errorf("remaining on a new day = %d, want 5", q.Remaining())
	}

	got, err := store.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != prev {
		t.Errorf("record mutated by read: %+v", got)
	}
}

func TestResolveQuota_SameDay(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	if err := store.Upsert(ctx, domusage.Record{Email: "a@example.com", LastGenerationDate: day1, ImagesGeneratedToday: 3}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	q, err := svc.ResolveQuota(ctx, "a@example.com", day1)
	if err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	if q.Remaining() != 2 {
		t.Errorf("remaining = %d, want 2", q.Remaining())
	}
}

func TestDecrement_MonotonicUntilExhausted(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	for want := 4; want >= 0; want-- {
		q, err := svc.Decrement(ctx, "a@example.com", day1)
		if err != nil {
			t.Fatalf("Decrement (want %d): %v", want, err)
		}
		if q.Remaining() != want {
			t.Fatalf("remaining = %d, want %d", q.Remaining(), want)
		}
	}

	q, err := svc.Decrement(ctx, "a@example.com", day1)
	if !errors.Is(err, domain.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	var qe *domain.QuotaExhaustedError
	if !errors.As(err, &qe) {
		t.Fatalf("expected *domain.QuotaExhaustedError, got %T", err)
	}
	if qe.Limit != 5 {
		t.Errorf("limit = %d, want 5", qe.Limit)
	}
	if q.Remaining() != 0 {
		t.Errorf("remaining after exhaustion = %d", q.Remaining())
	}

	rec, err := store.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ImagesGeneratedToday != 5 {
		t.Errorf("count = %d, want 5", rec.ImagesGeneratedToday)
	}
}

func TestDecrement_CrossDayRollover(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	if err := store.Upsert(ctx, domusage.Record{Email: "a@example.com", LastGenerationDate: day1, ImagesGeneratedToday: 3}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	q, err := svc.Decrement(ctx, "a@example.com", day2)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if q.Remaining() != 4 {
		t.Errorf("remaining = %d, want 4", q.Remaining())
	}

	rec, err := store.Get(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := domusage.Record{Email: "a@example.com", LastGenerationDate: day2, ImagesGeneratedToday: 1}
	if rec != want {
		t.Errorf("record = %+v, want %+v", rec, want)
	}
}

func TestDecrement_MissingRecord(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	q, err := svc.Decrement(ctx, "new@example.com", day1)
	if err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if q.Remaining() != 4 {
		t.Errorf("remaining = %d, want 4", q.Remaining())
	}
	rec, err := store.Get(ctx, "new@example.com")
	if err != nil || rec.ImagesGeneratedToday != 1 || rec.LastGenerationDate != day1 {
		t.Errorf("record = %+v, %v", rec, err)
	}
}

func TestDecrement_UnlimitedBypassesStore(t *testing.T) {
	svc, store, _ := newTestService(t, Config{
		DailyLimit:      5,
		UnlimitedEmails: []string{"Owner@Example.com"},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		q, err := svc.Decrement(ctx, "owner@example.com", day1)
		if err != nil {
			t.Fatalf("Decrement #%d: %v", i, err)
		}
		if !q.IsUnlimited() {
			t.Fatalf("expected unlimited quota, got %s", q)
		}
	}
	q, err := svc.ResolveQuota(ctx, "OWNER@example.com", day1)
	if err != nil || !q.IsUnlimited() {
		t.Errorf("ResolveQuota = %s, %v", q, err)
	}

	if _, err := store.Get(ctx, "owner@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unlimited user must not touch the store, got %v", err)
	}
}

func TestDecrement_PersistFailureReturnsNewQuota(t *testing.T) {
	svc, store, storage := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	if _, err := svc.ResolveQuota(ctx, "a@example.com", day1); err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	storage.FailWrites(errors.New("quota exceeded on disk"))

	q, err := svc.Decrement(ctx, "a@example.com", day1)
	if !errors.Is(err, domain.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if q.Remaining() != 4 {
		t.Errorf("remaining = %d, want 4", q.Remaining())
	}

	rec, err := store.Get(ctx, "a@example.com")
	if err != nil || rec.ImagesGeneratedToday != 1 {
		t.Errorf("in-memory decrement lost: %+v, %v", rec, err)
	}
}

func TestUnsaved_FollowsPersistResults(t *testing.T) {
	svc, _, storage := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	if svc.Unsaved() {
		t.Fatal("fresh engine reports unsaved changes")
	}

	storage.FailWrites(errors.New("disk full"))
	if _, err := svc.Decrement(ctx, "a@example.com", day1); !errors.Is(err, domain.ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if !svc.Unsaved() {
		t.Error("failed persist not reported as unsaved")
	}

	storage.FailWrites(nil)
	if _, err := svc.ResolveQuota(ctx, "a@example.com", day1); err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	if !svc.Unsaved() {
		t.Error("re-reading an existing record must not clear unsaved")
	}

	if _, err := svc.ResolveQuota(ctx, "b@example.com", day1); err != nil {
		t.Fatalf("ResolveQuota: %v", err)
	}
	if svc.Unsaved() {
		t.Error("saving a new record should clear unsaved")
	}
}

func TestDecrement_PersistsSnapshot(t *testing.T) {
	svc, _, storage := newTestService(t, Config{DailyLimit: 5})
	ctx := context.Background()

	if _, err := svc.Decrement(ctx, "a@example.com", day1); err != nil {
		t.Fatalf("Decrement: %v", err)
	}

	reloaded, err := repousage.Open(ctx, storage, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reloaded.Close()

	rec, err := reloaded.Get(ctx, "a@example.com")
	if err != nil || rec.ImagesGeneratedToday != 1 {
		t.Errorf("decrement not persisted: %+v, %v", rec, err)
	}
}

func TestReport(t *testing.T) {
	svc, store, _ := newTestService(t, Config{DailyLimit: 5})
	now := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Upsert(ctx, domusage.Record{Email: "a@example.com", LastGenerationDate: day1, ImagesGeneratedToday: 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	r, err := svc.Report(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.Day() != day1 {
		t.Errorf("day = %s", r.Day())
	}
	if r.Quota().Remaining() != 3 {
		t.Errorf("remaining = %d, want 3", r.Quota().Remaining())
	}
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !r.ResetsAt().Equal(want) {
		t.Errorf("resets at %s, want %s", r.ResetsAt(), want)
	}

	unknown, err := svc.Report(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if unknown.Quota().Remaining() != 5 {
		t.Errorf("unknown user remaining = %d", unknown.Quota().Remaining())
	}
	if _, err := store.Get(ctx, "ghost@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("Report must not create records")
	}
}

func TestNew_DefaultLimit(t *testing.T) {
	svc, _, _ := newTestService(t, Config{})
	if svc.Limit() != DefaultDailyLimit {
		t.Errorf("limit = %d, want %d", svc.Limit(), DefaultDailyLimit)
	}
}
