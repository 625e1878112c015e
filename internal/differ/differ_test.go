package differ

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/discovery-engine/internal/models"
)

var base = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func items(ids ...int64) []models.Item {
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Item{ID: id, UpdatedAt: base.Add(time.Duration(id) * time.Hour)})
	}
	return out
}

func TestDiff_NoHistory(t *testing.T) {
	m := Diff(items(1, 2, 3), nil)
	assert.Equal(t, 3, m.TotalFound)
	assert.Equal(t, 3, m.NewSinceLastRun)
}

func TestDiff_IdenticalRun(t *testing.T) {
	history := []models.RunResult{{Items: items(1, 2, 3)}}
	m := Diff(items(3, 2, 1), history)
	assert.Equal(t, 3, m.TotalFound)
	assert.Equal(t, 0, m.NewSinceLastRun)
}

func TestDiff_OnlyLatestRunCounts(t *testing.T) {
	history := []models.RunResult{
		{Items: items(1, 2, 3, 4)},
		{Items: items(1)},
	}
	m := Diff(items(1, 2, 5), history)
	assert.Equal(t, 2, m.NewSinceLastRun)
}

func TestDiff_EmptyCurrent(t *testing.T) {
	m := Diff(nil, []models.RunResult{{Items: items(1)}})
	assert.Equal(t, 0, m.TotalFound)
	assert.Equal(t, 0, m.NewSinceLastRun)
	assert.Empty(t, m.Trending)
}

func TestDiff_TrendingOrderAndBound(t *testing.T) {
	current := items(3, 7, 1, 6, 2, 5, 4)
	m := Diff(current, nil)

	ids := make([]int64, 0, len(m.Trending))
	for _, it := range m.Trending {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []int64{7, 6, 5, 4, 3}, ids)
	assert.Equal(t, int64(3), current[0].ID, "input must not be reordered")
}

func TestDiffN_CustomLimit(t *testing.T) {
	m := DiffN(items(1, 2, 3), nil, 2)
	assert.Len(t, m.Trending, 2)
	assert.Len(t, DiffN(items(1, 2, 3), nil, 0).Trending, 3)
}

func TestDiff_Deterministic(t *testing.T) {
	history := []models.RunResult{{Items: items(1, 2)}}
	assert.Equal(t, Diff(items(2, 3, 4), history), Diff(items(2, 3, 4), history))
}
