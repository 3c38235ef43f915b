package quota

import (
	"math"
	"strconv"
)

// UnlimitedRemaining is the sentinel remaining count reported for exempt users.
const UnlimitedRemaining = math.MaxInt32

// Quota is an immutable snapshot of a user's remaining daily generations.
type Quota struct {
	limit     int
	remaining int
	unlimited bool
	untracked bool
}

// New creates a tracked quota. remaining is clamped to [0, limit].
func New(limit, remaining int) Quota {
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit {
		remaining = limit
	}
	return Quota{limit: limit, remaining: remaining}
}

// Full returns a tracked quota with nothing used.
func Full(limit int) Quota { return New(limit, limit) }

// FromUsage derives the quota from a stored count.
// A record whose date is not today counts as a fresh day.
func FromUsage(limit int, lastDate, today string, usedToday int) Quota {
	if lastDate != today {
		return Full(limit)
	}
	return New(limit, limit-usedToday)
}

// Unlimited returns the quota of an exempt user.
func Unlimited(limit int) Quota {
	return Quota{limit: limit, remaining: UnlimitedRemaining, unlimited: true}
}

// Untracked returns the quota used while the usage store is unavailable.
// Every generation is allowed.
func Untracked(limit int) Quota {
	return Quota{limit: limit, remaining: limit, untracked: true}
}

// Limit returns the daily cap.
func (q Quota) Limit() int { return q.limit }

// Remaining returns generations left today.
func (q Quota) Remaining() int { return q.remaining }

// Used returns generations consumed today. Zero for exempt and untracked quotas.
func (q Quota) Used() int {
	if q.unlimited || q.untracked {
		return 0
	}
	return q.limit - q.remaining
}

// IsUnlimited reports whether the user bypasses the quota.
func (q Quota) IsUnlimited() bool { return q.unlimited }

// IsUntracked reports whether usage is not being recorded (degraded mode).
func (q Quota) IsUntracked() bool { return q.untracked }

// IsExhausted reports whether a tracked quota has no generations left.
func (q Quota) IsExhausted() bool {
	return !q.unlimited && !q.untracked && q.remaining <= 0
}

// String renders the quota for display: "unlimited" or the remaining count.
func (q Quota) String() string {
	if q.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(q.remaining)
}
