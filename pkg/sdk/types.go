package pixelquota

import (
	"time"

	domquota "github.com/kailas-cloud/pixelquota/internal/domain/quota"
)

// Quota is a user's remaining generations for the current day.
type Quota struct {
	Remaining int
	Limit     int
	// Unlimited is set for exempt users. Remaining is then a large sentinel.
	Unlimited bool
}

// String renders "unlimited" or the remaining count.
func (q Quota) String() string {
	return toDomainQuota(q).String()
}

// UsageReport is a read-only view of one user's quota for a day.
type UsageReport struct {
	Email    string
	Day      string // YYYY-MM-DD in the client's location
	Quota    Quota
	ResetsAt time.Time
}

func fromDomainQuota(q domquota.Quota) Quota {
	return Quota{
		Remaining: q.Remaining(),
		Limit:     q.Limit(),
		Unlimited: q.IsUnlimited(),
	}
}

func toDomainQuota(q Quota) domquota.Quota {
	if q.Unlimited {
		return domquota.Unlimited(q.Limit)
	}
	return domquota.New(q.Limit, q.Remaining)
}
