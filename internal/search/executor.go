// Package search executes compiled queries against the repository provider.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/github"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/query"
)

const (
	DefaultPageSize = 30
	MaxPageSize     = 100
	DefaultTimeout  = 30 * time.Second
)

// Provider is the remote repository-search collaborator.
type Provider interface {
	Search(ctx context.Context, query string, opts github.SearchOptions) ([]models.Item, error)
	GetRepoMeta(ctx context.Context, owner, repo string) (*github.RepoMeta, error)
}

// Config tunes an Executor.
type Config struct {
	PageSize int
	Timeout  time.Duration // bound on each remote call

	// Scorer ranks items against functionality/snippet criteria. Items
	// scoring at or below MinRelevance are dropped.
	Scorer       RelevanceScorer
	MinRelevance float64
}

// Executor issues queries and returns capped, star-ranked items.
type Executor struct {
	provider Provider
	cfg      Config
	logger   zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(provider Provider, cfg Config, logger zerolog.Logger) *Executor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Scorer == nil {
		cfg.Scorer = SubstringRelevance
	}
	return &Executor{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With().Str("component", "search").Logger(),
	}
}

// PageSize returns the effective page size.
func (e *Executor) PageSize() int { return e.cfg.PageSize }

// Execute runs q and returns at most PageSize items ordered by stars
// descending. It does not filter or retry.
func (e *Executor) Execute(ctx context.Context, q string) ([]models.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	items, err := e.provider.Search(ctx, q, github.SearchOptions{
		Sort:     "stars",
		Order:    "desc",
		PageSize: e.cfg.PageSize,
	})
	if err != nil {
		return nil, &perrors.ExecutionError{Query: q, Err: err}
	}
	if len(items) > e.cfg.PageSize {
		items = items[:e.cfg.PageSize]
	}
	return items, nil
}

// FindSimilar searches for repositories sharing the reference's topics and
// language. The reference itself is excluded.
func (e *Executor) FindSimilar(ctx context.Context, ref string) ([]models.Item, error) {
	owner, repo, err := github.ParseRepoRef(ref)
	if err != nil {
		return nil, &perrors.ExecutionError{Query: "similar:" + ref, Err: err}
	}

	metaCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	meta, err := e.provider.GetRepoMeta(metaCtx, owner, repo)
	cancel()
	if err != nil {
		return nil, &perrors.ExecutionError{Query: "similar:" + ref, Err: err}
	}

	q := query.Similar(meta.Topics, meta.Language)
	if q == "" {
		e.logger.Debug().Str("reference", ref).Msg("reference has no topics or language, skipping similar search")
		return nil, nil
	}

	items, err := e.Execute(ctx, q)
	if err != nil {
		return nil, err
	}

	out := items[:0]
	for _, it := range items {
		if it.ID == meta.ID || (meta.FullName != "" && it.FullName == meta.FullName) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// Discover runs the primary query plus any augmented lookups the criteria
// request, then applies relevance scoring.
func (e *Executor) Discover(ctx context.Context, q string, criteria models.SearchCriteria) ([]models.Item, error) {
	var primary, similar []models.Item

	g, gctx := errgroup.WithContext(ctx)
	if q != "" {
		g.Go(func() error {
			var err error
			primary, err = e.Execute(gctx, q)
			return err
		})
	}
	if criteria.SimilarTo != nil && strings.TrimSpace(*criteria.SimilarTo) != "" {
		ref := *criteria.SimilarTo
		g.Go(func() error {
			var err error
			similar, err = e.FindSimilar(gctx, ref)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	items := Merge(primary, similar)
	if wantsRelevance(criteria) {
		before := len(items)
		items = e.filterRelevant(items, criteria)
		e.logger.Debug().Int("before", before).Int("after", len(items)).Msg("relevance filter applied")
	}
	return items, nil
}

func (e *Executor) filterRelevant(items []models.Item, criteria models.SearchCriteria) []models.Item {
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if e.cfg.Scorer(it, criteria) > e.cfg.MinRelevance {
			out = append(out, it)
		}
	}
	return out
}

// Merge appends secondary items whose ids are not already in primary.
// Primary order and membership win.
func Merge(primary, secondary []models.Item) []models.Item {
	if len(secondary) == 0 {
		return primary
	}
	seen := make(map[int64]struct{}, len(primary)+len(secondary))
	out := make([]models.Item, 0, len(primary)+len(secondary))
	for _, it := range primary {
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	for _, it := range secondary {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
