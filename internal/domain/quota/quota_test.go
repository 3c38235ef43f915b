package quota

import (
	"testing"
	"time"
)

func TestNew_Clamps(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		remaining int
		want      int
	}{
		{"within", 5, 3, 3},
		{"negative", 5, -2, 0},
		{"above limit", 5, 9, 5},
		{"zero", 5, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := New(tc.limit, tc.remaining)
			if q.Remaining() != tc.want {
				t.Errorf("Remaining() = %d, want %d", q.Remaining(), tc.want)
			}
			if q.Used() != tc.limit-tc.want {
				t.Errorf("Used() = %d, want %d", q.Used(), tc.limit-tc.want)
			}
		})
	}
}

func TestFromUsage(t *testing.T) {
	if q := FromUsage(5, "2024-01-01", "2024-01-02", 5); q.Remaining() != 5 {
		t.Errorf("rollover: Remaining() = %d, want 5", q.Remaining())
	}
	if q := FromUsage(5, "", "2024-01-02", 0); q.Remaining() != 5 {
		t.Errorf("never generated: Remaining() = %d, want 5", q.Remaining())
	}
	if q := FromUsage(5, "2024-01-02", "2024-01-02", 2); q.Remaining() != 3 {
		t.Errorf("same day: Remaining() = %d, want 3", q.Remaining())
	}
	if q := FromUsage(5, "2024-01-02", "2024-01-02", 7); q.Remaining() != 0 || !q.IsExhausted() {
		t.Errorf("over-counted: Remaining() = %d, exhausted = %v", q.Remaining(), q.IsExhausted())
	}
}

func TestUnlimited(t *testing.T) {
	q := Unlimited(5)
	if !q.IsUnlimited() {
		t.Fatal("IsUnlimited() = false")
	}
	if q.Remaining() < 5 {
		t.Errorf("Remaining() = %d, want >= limit", q.Remaining())
	}
	if q.IsExhausted() {
		t.Error("unlimited quota must never be exhausted")
	}
	if q.String() != "unlimited" {
		t.Errorf("String() = %q", q.String())
	}
}

func TestUntracked(t *testing.T) {
	q := Untracked(5)
	if !q.IsUntracked() || q.IsExhausted() {
		t.Errorf("untracked = %v, exhausted = %v", q.IsUntracked(), q.IsExhausted())
	}
	if q.String() != "5" {
		t.Errorf("String() = %q, want 5", q.String())
	}
}

func TestToday_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2024, 1, 1, 22, 30, 0, 0, time.UTC)

	if got := Today(now, loc); got != "2024-01-02" {
		t.Errorf("Today(UTC+3) = %q, want 2024-01-02", got)
	}
	if got := Today(now, time.UTC); got != "2024-01-01" {
		t.Errorf("Today(UTC) = %q, want 2024-01-01", got)
	}
}

func TestNextReset(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, loc)

	got := NextReset(now, loc)
	want := time.Date(2024, 3, 11, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("NextReset() = %v, want %v", got, want)
	}
}
