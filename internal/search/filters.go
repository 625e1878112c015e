package search

import (
	"time"

	"github.com/p-blackswan/discovery-engine/internal/models"
)

// ApplyFilters enforces the post-search rules that can be decided from item
// metadata alone: archived, fork and activity threshold. Contributor and
// commit minimums and documentation/test requirements need per-repository
// API calls and are not enforced here.
func ApplyFilters(items []models.Item, f models.FilterConfig, now time.Time) []models.Item {
	if !f.ExcludeArchived && !f.ExcludeForks && f.ActivityThresholdDays <= 0 {
		return items
	}

	var cutoff time.Time
	if f.ActivityThresholdDays > 0 {
		cutoff = now.AddDate(0, 0, -f.ActivityThresholdDays)
	}

	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if f.ExcludeArchived && it.Archived {
			continue
		}
		if f.ExcludeForks && it.Fork {
			continue
		}
		if !cutoff.IsZero() {
			last := it.PushedAt
			if last.IsZero() {
				last = it.UpdatedAt
			}
			if last.Before(cutoff) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}
