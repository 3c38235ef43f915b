package pixelquota

import (
	"context"
	"fmt"
	"time"
)

// Report returns today's quota of email without creating a record.
func (c *Client) Report(ctx context.Context, email string) (r UsageReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("report", email, start, err) }()

	report, err := c.quotaSvc.Report(ctx, email)
	if err != nil {
		return UsageReport{}, fmt.Errorf("usage report: %w", err)
	}
	return UsageReport{
		Email:    report.Email(),
		Day:      report.Day(),
		Quota:    fromDomainQuota(report.Quota()),
		ResetsAt: report.ResetsAt(),
	}, nil
}
