package curator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/github"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/retry"
)

type fakeSource struct {
	mu      sync.Mutex
	entries map[string][]github.Entry
	errs    map[string]error
	calls   map[string]int
}

func (f *fakeSource) ListContents(_ context.Context, owner, repo, _ string) ([]github.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + repo
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.entries[key], nil
}

func newTestCurator(src ArtifactSource) *Curator {
	c := New(src, Config{Retry: retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}, zerolog.Nop())
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("ci-%d", n)
	}
	c.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	return c
}

func repo(id int64, name string, stars int) models.Item {
	return models.Item{ID: id, Name: name, FullName: "acme/" + name, Owner: models.Owner{Login: "acme"}, Stars: stars}
}

func TestPrepare_TopKByStarsSkippingCurated(t *testing.T) {
	c := newTestCurator(nil)
	settings := &models.ContextSettings{
		AutoUpdateContext: true,
		CuratedItems:      []models.CuratedItem{{ID: "old", RefID: 4}},
	}
	newItems := []models.Item{repo(1, "a", 10), repo(2, "b", 50), repo(3, "c", 30), repo(4, "d", 100), repo(5, "e", 20)}

	prepared := c.Prepare(context.Background(), "vectors", settings, newItems)
	require.Len(t, prepared, 3)

	refs := []int64{prepared[0].RefID, prepared[1].RefID, prepared[2].RefID}
	assert.Equal(t, []int64{2, 3, 5}, refs)
	for _, ci := range prepared {
		assert.Equal(t, models.ImportanceMedium, ci.Importance)
		assert.Contains(t, ci.Notes, `"vectors"`)
		assert.Empty(t, ci.SelectedArtifacts)
	}
	assert.Len(t, settings.CuratedItems, 1, "prepare must not mutate settings")
}

func TestPrepare_ReadmeDiscovery(t *testing.T) {
	src := &fakeSource{entries: map[string][]github.Entry{
		"acme/a": {
			{Name: "docs", Path: "docs", Type: "dir"},
			{Name: "ReadMe.rst", Path: "ReadMe.rst", Type: "file"},
			{Name: "main.go", Path: "main.go", Type: "file"},
		},
	}}
	c := newTestCurator(src)
	settings := &models.ContextSettings{IncludeReadme: true}

	prepared := c.Prepare(context.Background(), "x", settings, []models.Item{repo(1, "a", 1)})
	require.Len(t, prepared, 1)
	assert.Equal(t, []string{"ReadMe.rst"}, prepared[0].SelectedArtifacts)
}

func TestPrepare_MainFiles(t *testing.T) {
	src := &fakeSource{entries: map[string][]github.Entry{
		"acme/a": {
			{Name: "README.md", Path: "README.md", Type: "file"},
			{Name: "main.go", Path: "main.go", Type: "file"},
			{Name: "index.ts", Path: "index.ts", Type: "file"},
			{Name: "app.py", Path: "app.py", Type: "file"},
			{Name: "main", Path: "main", Type: "dir"},
		},
	}}
	c := newTestCurator(src)
	settings := &models.ContextSettings{IncludeReadme: true, IncludeMainFiles: true, MaxCodeFiles: 2}

	prepared := c.Prepare(context.Background(), "x", settings, []models.Item{repo(1, "a", 1)})
	require.Len(t, prepared, 1)
	assert.Equal(t, []string{"README.md", "main.go", "index.ts"}, prepared[0].SelectedArtifacts)
}

func TestPrepare_ArtifactFailureIsNonFatal(t *testing.T) {
	src := &fakeSource{errs: map[string]error{
		"acme/a": perrors.NewAPIError("github", 503, "unavailable"),
		"acme/b": perrors.ErrNotFound,
	}}
	c := newTestCurator(src)
	var failures []error
	c.OnArtifactFailure = func(err error) { failures = append(failures, err) }

	settings := &models.ContextSettings{IncludeReadme: true}
	prepared := c.Prepare(context.Background(), "x", settings, []models.Item{repo(1, "a", 2), repo(2, "b", 1)})

	require.Len(t, prepared, 2)
	assert.Empty(t, prepared[0].SelectedArtifacts)
	assert.Empty(t, prepared[1].SelectedArtifacts)
	assert.Equal(t, 2, src.calls["acme/a"], "retryable failures are retried")
	assert.Equal(t, 1, src.calls["acme/b"])
	require.Len(t, failures, 2)
	var aerr *perrors.ArtifactError
	assert.ErrorAs(t, failures[0], &aerr)
}

func TestApply_NeverDuplicates(t *testing.T) {
	settings := &models.ContextSettings{CuratedItems: []models.CuratedItem{{ID: "x", RefID: 1}}}
	added := Apply(settings, []models.CuratedItem{{ID: "y", RefID: 1}, {ID: "z", RefID: 2}, {ID: "w", RefID: 2}})
	assert.Equal(t, 1, added)
	require.Len(t, settings.CuratedItems, 2)
	assert.Equal(t, "x", settings.CuratedItems[0].ID)
	assert.Equal(t, "z", settings.CuratedItems[1].ID)
}

func TestCurate(t *testing.T) {
	c := newTestCurator(nil)
	agent := &models.Agent{Name: "a"}
	assert.Nil(t, c.Curate(context.Background(), agent, []models.Item{repo(1, "a", 1)}))

	agent.Config.ContextSettings = &models.ContextSettings{AutoUpdateContext: false}
	assert.Nil(t, c.Curate(context.Background(), agent, []models.Item{repo(1, "a", 1)}))

	agent.Config.ContextSettings.AutoUpdateContext = true
	updated := c.Curate(context.Background(), agent, []models.Item{repo(1, "a", 1)})
	require.NotNil(t, updated)
	assert.Len(t, updated.CuratedItems, 1)
	assert.Empty(t, agent.Config.ContextSettings.CuratedItems, "agent must not be mutated")
}

func TestSaveItem_Upsert(t *testing.T) {
	c := newTestCurator(nil)
	settings := &models.ContextSettings{}
	first, second := "first", "second"
	high := models.ImportanceHigh

	a := c.SaveItem(settings, repo(7, "g", 1), &first, nil)
	assert.Equal(t, models.ImportanceMedium, a.Importance)
	assert.Equal(t, []string{}, a.SelectedArtifacts)

	b := c.SaveItem(settings, repo(7, "g", 1), &second, &high)
	require.Len(t, settings.CuratedItems, 1)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "second", settings.CuratedItems[0].Notes)
	assert.Equal(t, models.ImportanceHigh, settings.CuratedItems[0].Importance)

	c.SaveItem(settings, repo(7, "g", 1), nil, nil)
	assert.Equal(t, "second", settings.CuratedItems[0].Notes)
}

func TestRemoveItem(t *testing.T) {
	settings := &models.ContextSettings{CuratedItems: []models.CuratedItem{{ID: "a", RefID: 1}, {ID: "b", RefID: 2}}}

	assert.False(t, RemoveItem(settings, "missing"))
	assert.Len(t, settings.CuratedItems, 2)

	assert.True(t, RemoveItem(settings, "a"))
	require.Len(t, settings.CuratedItems, 1)
	assert.Equal(t, "b", settings.CuratedItems[0].ID)

	assert.False(t, RemoveItem(nil, "b"))
}

func TestNoDuplicateCurationAcrossPaths(t *testing.T) {
	c := newTestCurator(nil)
	settings := &models.ContextSettings{AutoUpdateContext: true}
	items := []models.Item{repo(1, "a", 3), repo(2, "b", 2), repo(3, "c", 1)}

	c.SaveItem(settings, items[1], nil, nil)
	Apply(settings, c.Prepare(context.Background(), "x", settings, items))
	Apply(settings, c.Prepare(context.Background(), "x", settings, items))
	c.SaveItem(settings, items[0], nil, nil)

	seen := map[int64]int{}
	for _, ci := range settings.CuratedItems {
		seen[ci.RefID]++
	}
	assert.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1}, seen)
}
