package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/github"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

type fakeProvider struct {
	mu      sync.Mutex
	results map[string][]models.Item
	meta    map[string]*github.RepoMeta
	err     error
	queries []string
	opts    []github.SearchOptions
}

func (f *fakeProvider) Search(_ context.Context, q string, opts github.SearchOptions) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func (f *fakeProvider) GetRepoMeta(_ context.Context, owner, repo string) (*github.RepoMeta, error) {
	m, ok := f.meta[owner+"/"+repo]
	if !ok {
		return nil, perrors.ErrNotFound
	}
	return m, nil
}

func desc(s string) *string { return &s }

func item(id int64, name string, stars int) models.Item {
	return models.Item{ID: id, Name: name, FullName: "acme/" + name, Stars: stars}
}

func TestExecute_CapsAndRanksByProvider(t *testing.T) {
	many := make([]models.Item, 0, 40)
	for i := 0; i < 40; i++ {
		many = append(many, item(int64(i), "r", 1000-i))
	}
	p := &fakeProvider{results: map[string][]models.Item{"q": many}}
	e := NewExecutor(p, Config{PageSize: 30}, zerolog.Nop())

	items, err := e.Execute(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, items, 30)
	require.Len(t, p.opts, 1)
	assert.Equal(t, github.SearchOptions{Sort: "stars", Order: "desc", PageSize: 30}, p.opts[0])
}

func TestNewExecutor_ClampsPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NewExecutor(&fakeProvider{}, Config{}, zerolog.Nop()).PageSize())
	assert.Equal(t, MaxPageSize, NewExecutor(&fakeProvider{}, Config{PageSize: 500}, zerolog.Nop()).PageSize())
}

func TestExecute_WrapsFailure(t *testing.T) {
	cause := perrors.NewAPIError("github", 502, "bad gateway")
	p := &fakeProvider{err: cause}
	e := NewExecutor(p, Config{}, zerolog.Nop())

	_, err := e.Execute(context.Background(), "language:go")
	require.Error(t, err)

	var ee *perrors.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "language:go", ee.Query)
	assert.True(t, errors.Is(err, cause))
	assert.Len(t, p.queries, 1, "executor must not retry")
}

func TestExecute_AppliesTimeout(t *testing.T) {
	e := NewExecutor(providerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), Config{Timeout: 10 * time.Millisecond}, zerolog.Nop())

	_, err := e.Execute(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type providerFunc func(ctx context.Context) error

func (f providerFunc) Search(ctx context.Context, _ string, _ github.SearchOptions) ([]models.Item, error) {
	return nil, f(ctx)
}

func (f providerFunc) GetRepoMeta(ctx context.Context, _, _ string) (*github.RepoMeta, error) {
	return nil, f(ctx)
}

func TestFindSimilar_ExcludesReference(t *testing.T) {
	p := &fakeProvider{
		meta: map[string]*github.RepoMeta{
			"acme/alpha": {ID: 1, FullName: "acme/alpha", Topics: []string{"db", "vector", "search", "extra"}, Language: "Go"},
		},
		results: map[string][]models.Item{
			"topic:db topic:vector topic:search language:Go": {item(1, "alpha", 900), item(2, "beta", 500), item(3, "gamma", 100)},
		},
	}
	e := NewExecutor(p, Config{}, zerolog.Nop())

	items, err := e.FindSimilar(context.Background(), "acme/alpha")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2), items[0].ID)
	assert.Equal(t, int64(3), items[1].ID)
}

func TestFindSimilar_UnknownReference(t *testing.T) {
	e := NewExecutor(&fakeProvider{}, Config{}, zerolog.Nop())

	_, err := e.FindSimilar(context.Background(), "acme/missing")
	assert.True(t, perrors.IsExecution(err))
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestFindSimilar_NoSignalsSkipsSearch(t *testing.T) {
	p := &fakeProvider{meta: map[string]*github.RepoMeta{"acme/bare": {ID: 9}}}
	e := NewExecutor(p, Config{}, zerolog.Nop())

	items, err := e.FindSimilar(context.Background(), "acme/bare")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, p.queries)
}

func TestDiscover_MergesSimilarPrimaryWins(t *testing.T) {
	ref := "acme/alpha"
	primaryBeta := item(2, "beta", 500)
	primaryBeta.Stars = 501
	p := &fakeProvider{
		meta: map[string]*github.RepoMeta{ref: {ID: 1, FullName: ref, Topics: []string{"db"}}},
		results: map[string][]models.Item{
			"vector":   {item(4, "delta", 800), primaryBeta},
			"topic:db": {item(2, "beta", 500), item(5, "epsilon", 50)},
		},
	}
	e := NewExecutor(p, Config{}, zerolog.Nop())

	items, err := e.Discover(context.Background(), "vector", models.SearchCriteria{SimilarTo: &ref})
	require.NoError(t, err)

	ids := []int64{}
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []int64{4, 2, 5}, ids)
	assert.Equal(t, 501, items[1].Stars, "primary copy must win")
}

func TestDiscover_SimilarOnlySkipsPrimary(t *testing.T) {
	ref := "acme/alpha"
	p := &fakeProvider{
		meta:    map[string]*github.RepoMeta{ref: {ID: 1, FullName: ref, Topics: []string{"db"}}},
		results: map[string][]models.Item{"topic:db": {item(2, "beta", 500)}},
	}
	e := NewExecutor(p, Config{}, zerolog.Nop())

	items, err := e.Discover(context.Background(), "", models.SearchCriteria{SimilarTo: &ref})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ID)
	assert.Equal(t, []string{"topic:db"}, p.queries)
}

func TestDiscover_RelevanceFilter(t *testing.T) {
	match := item(1, "kv", 10)
	match.Description = desc("Embedded key-value store with raft replication")
	miss := item(2, "ui", 20)
	miss.Description = desc("React component library")

	p := &fakeProvider{results: map[string][]models.Item{"store": {miss, match}}}
	e := NewExecutor(p, Config{}, zerolog.Nop())

	items, err := e.Discover(context.Background(), "store", models.SearchCriteria{
		FunctionalityDescription: desc("raft replication"),
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].ID)
}

func TestDiscover_CustomScorer(t *testing.T) {
	p := &fakeProvider{results: map[string][]models.Item{"q": {item(1, "a", 1), item(2, "b", 2)}}}
	e := NewExecutor(p, Config{
		Scorer: func(it models.Item, _ models.SearchCriteria) float64 {
			if it.ID == 2 {
				return 0.9
			}
			return 0.1
		},
		MinRelevance: 0.5,
	}, zerolog.Nop())

	items, err := e.Discover(context.Background(), "q", models.SearchCriteria{CodeSnippets: []string{"func main()"}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(2), items[0].ID)
}

func TestMerge(t *testing.T) {
	assert.Equal(t, []models.Item{item(1, "a", 1)}, Merge([]models.Item{item(1, "a", 1)}, nil))

	merged := Merge([]models.Item{item(1, "a", 1)}, []models.Item{item(1, "dup", 9), item(2, "b", 2), item(2, "b2", 2)})
	require.Len(t, merged, 2)
	assert.Equal(t, "a", merged[0].Name)
	assert.Equal(t, "b", merged[1].Name)
}

func TestSubstringRelevance(t *testing.T) {
	it := models.Item{Name: "tokio", Description: desc("An async runtime for Rust"), Topics: []string{"networking"}}

	assert.Equal(t, 1.0, SubstringRelevance(it, models.SearchCriteria{}))
	assert.Equal(t, 1.0, SubstringRelevance(it, models.SearchCriteria{FunctionalityDescription: desc("Async runtime!")}))
	assert.Equal(t, 0.5, SubstringRelevance(it, models.SearchCriteria{CodeSnippets: []string{"networking", "tokio::spawn"}}))
	assert.Equal(t, 0.0, SubstringRelevance(it, models.SearchCriteria{FunctionalityDescription: desc("image codec")}))
}

func TestApplyFilters(t *testing.T) {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	fresh := item(1, "fresh", 1)
	fresh.PushedAt = now.AddDate(0, 0, -3)
	stale := item(2, "stale", 1)
	stale.PushedAt = now.AddDate(0, 0, -90)
	archived := item(3, "archived", 1)
	archived.Archived = true
	archived.PushedAt = now
	fork := item(4, "fork", 1)
	fork.Fork = true
	fork.PushedAt = now
	updatedOnly := item(5, "updated", 1)
	updatedOnly.UpdatedAt = now.AddDate(0, 0, -1)

	all := []models.Item{fresh, stale, archived, fork, updatedOnly}

	assert.Equal(t, all, ApplyFilters(all, models.FilterConfig{}, now))

	got := ApplyFilters(all, models.FilterConfig{ExcludeArchived: true, ExcludeForks: true, ActivityThresholdDays: 30}, now)
	names := []string{}
	for _, it := range got {
		names = append(names, it.Name)
	}
	assert.Equal(t, []string{"fresh", "updated"}, names)
}
