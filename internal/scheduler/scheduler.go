// Package scheduler drives agent runs: the Idle/Running/Completed/Error state
// machine, the run pipeline and the continuous-mode due-check loop.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/p-blackswan/discovery-engine/internal/curator"
	"github.com/p-blackswan/discovery-engine/internal/differ"
	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/query"
	"github.com/p-blackswan/discovery-engine/internal/search"
)

const (
	DefaultTickInterval  = 60 * time.Second
	DefaultMaxConcurrent = 8
)

// Store is the persistence the scheduler needs.
type Store interface {
	BeginRun(ctx context.Context, id string) (*models.Agent, error)
	Update(ctx context.Context, id string, fn func(a *models.Agent) error) (*models.Agent, error)
	AppendRun(ctx context.Context, run *models.RunResult, fn func(a *models.Agent) error) (*models.Agent, error)
	ListContinuous(ctx context.Context) ([]*models.Agent, error)
}

// Searcher runs a compiled query plus any augmented lookups.
type Searcher interface {
	Discover(ctx context.Context, q string, criteria models.SearchCriteria) ([]models.Item, error)
}

// Recorder receives run outcomes for metrics.
type Recorder interface {
	RecordRun(outcome string, d time.Duration)
	RecordDiscovered(total, fresh int)
	RecordCurated(n int)
	RecordTick(triggered int)
}

// Config tunes a Scheduler.
type Config struct {
	TickInterval  time.Duration
	MaxConcurrent int
	TrendingLimit int
}

// Scheduler executes agent runs and owns continuous mode.
type Scheduler struct {
	store    Store
	searcher Searcher
	curator  *curator.Curator
	recorder Recorder
	cfg      Config
	logger   zerolog.Logger

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	inflight sync.Map // agent id -> struct{}

	now   func() time.Time
	newID func() string
}

// New creates a Scheduler. cur and recorder may be nil.
func New(store Store, searcher Searcher, cur *curator.Curator, recorder Recorder, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = differ.DefaultTrendingLimit
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Scheduler{
		store:    store,
		searcher: searcher,
		curator:  cur,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// RunNow runs the agent immediately. It returns ErrAlreadyRunning when a run
// of the same agent is in flight and ErrNotFound for unknown ids. On failure
// the agent is left in Error with its next run one interval away.
func (s *Scheduler) RunNow(ctx context.Context, id string) (*models.RunResult, error) {
	a, err := s.store.BeginRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, a)
}

func (s *Scheduler) execute(ctx context.Context, a *models.Agent) (*models.RunResult, error) {
	start := s.clock()
	// Run history is strictly time-ordered even when two runs land in the
	// same millisecond.
	if a.LastRunAt != nil && !start.After(*a.LastRunAt) {
		start = a.LastRunAt.Add(time.Millisecond)
	}
	log := s.logger.With().Str("agent_id", a.ID).Logger()
	log.Info().Msg("run started")

	q, err := query.Compile(a.Config.SearchCriteria, a.Config.Filters, start)
	if err != nil {
		return nil, s.fail(ctx, a, q, start, err)
	}

	items, err := s.searcher.Discover(ctx, q, a.Config.SearchCriteria)
	if err != nil {
		return nil, s.fail(ctx, a, q, start, err)
	}
	items = search.ApplyFilters(items, a.Config.Filters, start)

	metrics := differ.DiffN(items, a.RunHistory, s.cfg.TrendingLimit)
	run := &models.RunResult{
		ID:        s.newID(),
		AgentID:   a.ID,
		Timestamp: start,
		Query:     q,
		Items:     items,
		Metrics:   metrics,
	}

	// Artifact lookups happen before the store transaction; Apply re-checks
	// for duplicates against the committed settings.
	var prepared []models.CuratedItem
	if cs := a.Config.ContextSettings; s.curator != nil && cs != nil && cs.AutoUpdateContext {
		prepared = s.curator.Prepare(ctx, a.Name, cs, newSince(items, a.LastRun()))
	}

	added := 0
	_, err = s.store.AppendRun(context.WithoutCancel(ctx), run, func(cur *models.Agent) error {
		cur.Status = models.StatusCompleted
		cur.LastRunAt = &start
		cur.Config.Schedule.LastRun = &start
		next := start.Add(cur.Config.Schedule.Frequency.Interval())
		cur.Config.Schedule.NextRun = &next
		if cs := cur.Config.ContextSettings; cs != nil && len(prepared) > 0 {
			added = curator.Apply(cs, prepared)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, a, q, start, err)
	}

	elapsed := s.clock().Sub(start)
	s.recorder.RecordRun(string(models.StatusCompleted), elapsed)
	s.recorder.RecordDiscovered(metrics.TotalFound, metrics.NewSinceLastRun)
	if added > 0 {
		s.recorder.RecordCurated(added)
	}
	log.Info().
		Str("query", q).
		Int("total_found", metrics.TotalFound).
		Int("new_since_last_run", metrics.NewSinceLastRun).
		Int("curated", added).
		Dur("duration", elapsed).
		Msg("run completed")
	return run, nil
}

// fail moves the agent to Error, records the failed run as the last run,
// schedules the next attempt one interval after it and returns cause.
func (s *Scheduler) fail(ctx context.Context, a *models.Agent, q string, start time.Time, cause error) error {
	s.logger.Error().
		Err(cause).
		Str("agent_id", a.ID).
		Str("query", q).
		Msg("run failed")
	s.recorder.RecordRun(string(models.StatusError), s.clock().Sub(start))

	now := s.clock()
	if now.Before(start) {
		now = start
	}
	_, err := s.store.Update(context.WithoutCancel(ctx), a.ID, func(cur *models.Agent) error {
		cur.Status = models.StatusError
		cur.LastRunAt = &now
		cur.Config.Schedule.LastRun = &now
		next := now.Add(cur.Config.Schedule.Frequency.Interval())
		cur.Config.Schedule.NextRun = &next
		return nil
	})
	if err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			s.logger.Info().Str("agent_id", a.ID).Msg("agent deleted during run")
		} else {
			s.logger.Error().Err(err).Str("agent_id", a.ID).Msg("failed to record run failure")
		}
	}
	return cause
}

// Wait blocks until every run started by the continuous loop has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// clock returns the current time at the store's millisecond resolution so
// persisted timestamps compare equal to the ones computed here.
func (s *Scheduler) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// newSince returns the items absent from the previous run.
func newSince(items []models.Item, last *models.RunResult) []models.Item {
	if last == nil {
		return items
	}
	seen := last.ItemIDs()
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, time.Duration) {}
func (nopRecorder) RecordDiscovered(int, int)       {}
func (nopRecorder) RecordCurated(int)               {}
func (nopRecorder) RecordTick(int)                  {}
