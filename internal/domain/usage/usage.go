package usage

import (
	"time"

	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
)

// Record is the persisted daily usage of one user, keyed by email.
type Record struct {
	Email string
	// LastGenerationDate is the local calendar date (YYYY-MM-DD) of the last
	// generation. Empty means the user never generated.
	LastGenerationDate   string
	ImagesGeneratedToday int
}

// HasGenerated reports whether the record carries a generation date.
func (r Record) HasGenerated() bool { return r.LastGenerationDate != "" }

// Report is a user's quota state for the current day.
type Report struct {
	email    string
	day      string
	quota    quota.Quota
	resetsAt time.Time
}

// NewReport creates a usage report.
func NewReport(email, day string, q quota.Quota, resetsAt time.Time) Report {
	return Report{
		email:    email,
		day:      day,
		quota:    q,
		resetsAt: resetsAt,
	}
}

// Email returns the user the report belongs to.
func (r *Report) Email() string { return r.email }

// Day returns the calendar date the report was computed for.
func (r *Report) Day() string { return r.day }

// Quota returns the derived quota.
func (r *Report) Quota() quota.Quota { return r.quota }

// ResetsAt returns when the next day's quota begins.
func (r *Report) ResetsAt() time.Time { return r.resetsAt }
