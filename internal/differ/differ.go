// Package differ compares a run's items against the agent's history.
package differ

import (
	"sort"

	"github.com/p-blackswan/discovery-engine/internal/models"
)

// DefaultTrendingLimit bounds Metrics.Trending.
const DefaultTrendingLimit = 5

// Diff computes run metrics with the default trending bound.
func Diff(current []models.Item, history []models.RunResult) models.Metrics {
	return DiffN(current, history, DefaultTrendingLimit)
}

// DiffN computes run metrics. New items are counted against the most recent
// run in history only; with no history every item is new. Trending holds up
// to limit items ordered by last update, newest first. Inputs are not
// modified.
func DiffN(current []models.Item, history []models.RunResult, limit int) models.Metrics {
	m := models.Metrics{TotalFound: len(current)}

	if len(history) == 0 {
		m.NewSinceLastRun = len(current)
	} else {
		seen := history[len(history)-1].ItemIDs()
		for _, it := range current {
			if _, ok := seen[it.ID]; !ok {
				m.NewSinceLastRun++
			}
		}
	}

	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	trending := make([]models.Item, len(current))
	copy(trending, current)
	sort.SliceStable(trending, func(i, j int) bool {
		return trending[i].UpdatedAt.After(trending[j].UpdatedAt)
	})
	if len(trending) > limit {
		trending = trending[:limit]
	}
	m.Trending = trending
	return m
}
