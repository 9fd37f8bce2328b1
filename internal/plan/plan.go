// Package plan holds the read-only subscription tiers and the quota policy.
package plan

import (
	"fmt"

	"github.com/luminachat/lumina/internal/apperr"
)

type Plan struct {
	Name        string
	Slug        string
	Quota       int // max files per owner
	PagesPerPDF int // max segments per document
}

var plans = []Plan{
	{Name: "free", Slug: "free", Quota: 5, PagesPerPDF: 100},
	{Name: "Pro", Slug: "pro", Quota: 50, PagesPerPDF: 500},
}

// BySlug resolves a plan slug, falling back to the free tier for unknown or
// empty slugs.
func BySlug(slug string) Plan {
	for _, p := range plans {
		if p.Slug == slug {
			return p
		}
	}
	return plans[0]
}

// CheckPages is the page-quota policy: pure, no side effects. Deny when the
// document has more segments than the plan allows.
func CheckPages(p Plan, segmentCount int) error {
	if segmentCount > p.PagesPerPDF {
		return fmt.Errorf("%w: %d pages exceeds plan %q limit of %d",
			apperr.ErrQuotaExceeded, segmentCount, p.Slug, p.PagesPerPDF)
	}
	return nil
}

// CheckFileCount denies new uploads once an owner holds their plan's maximum
// number of files.
func CheckFileCount(p Plan, fileCount int) error {
	if fileCount >= p.Quota {
		return fmt.Errorf("%w: %d files reaches plan %q limit of %d",
			apperr.ErrQuotaExceeded, fileCount, p.Slug, p.Quota)
	}
	return nil
}
