// Package service is the engine's exposed surface: agent lifecycle, manual
// runs, continuous mode and context curation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/discovery-engine/internal/curator"
	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
	"github.com/p-blackswan/discovery-engine/internal/query"
	"github.com/p-blackswan/discovery-engine/internal/requestid"
	"github.com/p-blackswan/discovery-engine/internal/templates"
)

// Store is the agent persistence the service needs.
type Store interface {
	Create(ctx context.Context, a *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, status models.Status) ([]*models.Agent, error)
	Update(ctx context.Context, id string, fn func(a *models.Agent) error) (*models.Agent, error)
	Delete(ctx context.Context, id string) (bool, error)
	ListRuns(ctx context.Context, agentID string, limit int) ([]models.RunResult, error)
}

// Runner executes runs and owns continuous mode.
type Runner interface {
	RunNow(ctx context.Context, id string) (*models.RunResult, error)
	EnableContinuous(ctx context.Context, id string) (bool, error)
	DisableContinuous(ctx context.Context, id string) (bool, error)
}

// AgentDefinition describes a new agent. When Template is set the template
// supplies the defaults; a non-nil Config replaces the template's config.
type AgentDefinition struct {
	Template    string              `json:"template,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Config      *models.AgentConfig `json:"config,omitempty"`
	Continuous  bool                `json:"continuous,omitempty"`
}

// Service implements the engine's operations.
type Service struct {
	store     Store
	runner    Runner
	curator   *curator.Curator
	templates *templates.Registry
	logger    zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a Service. tpl may be nil when no templates are offered.
func New(store Store, runner Runner, cur *curator.Curator, tpl *templates.Registry, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		runner:    runner,
		curator:   cur,
		templates: tpl,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateAgent validates def and stores a new Idle agent with no history.
func (s *Service) CreateAgent(ctx context.Context, def AgentDefinition) (*models.Agent, error) {
	a := &models.Agent{
		ID:          s.newID(),
		Name:        strings.TrimSpace(def.Name),
		Description: def.Description,
		Status:      models.StatusIdle,
	}

	if def.Template != "" {
		if s.templates == nil {
			return nil, fmt.Errorf("template %q: %w", def.Template, perrors.ErrInvalidInput)
		}
		tpl, err := s.templates.Get(def.Template)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", def.Template, perrors.ErrInvalidInput)
		}
		a.Config = cloneConfig(tpl.Config)
		if a.Name == "" {
			a.Name = tpl.Name
		}
		if a.Description == "" {
			a.Description = tpl.Description
		}
	}
	if def.Config != nil {
		a.Config = cloneConfig(*def.Config)
	}
	if a.Name == "" {
		return nil, &perrors.CompilationError{Field: "name", Reason: "must not be empty"}
	}

	// Runtime fields are owned by the scheduler and curator.
	a.Config.Schedule.LastRun = nil
	a.Config.Schedule.NextRun = nil
	if cs := a.Config.ContextSettings; cs != nil {
		cs.CuratedItems = []models.CuratedItem{}
	}

	if err := s.validate(&a.Config); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("agent_id", a.ID).Str("name", a.Name).Str("template", def.Template).Msg("agent created")

	if def.Continuous {
		if _, err := s.runner.EnableContinuous(ctx, a.ID); err != nil {
			return nil, err
		}
		return s.store.Get(ctx, a.ID)
	}
	return a, nil
}

// GetAgent returns the agent with its run history.
func (s *Service) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return s.store.Get(ctx, id)
}

// UpdateAgent shallow-merges p into the agent. A replacement config keeps the
// agent's schedule state and curated items; when the frequency changes the
// next run is recomputed from the last one.
func (s *Service) UpdateAgent(ctx context.Context, id string, p models.AgentPatch) (*models.Agent, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, &perrors.CompilationError{Field: "name", Reason: "must not be empty"}
	}
	if p.Config != nil {
		cfg := cloneConfig(*p.Config)
		if err := s.validate(&cfg); err != nil {
			return nil, err
		}
		p.Config = &cfg
	}

	a, err := s.store.Update(ctx, id, func(a *models.Agent) error {
		old := a.Config
		p.Apply(a)
		if p.Config == nil {
			return nil
		}

		sched := &a.Config.Schedule
		sched.LastRun = old.Schedule.LastRun
		sched.NextRun = old.Schedule.NextRun
		if sched.Frequency != old.Schedule.Frequency && sched.LastRun != nil {
			next := sched.LastRun.Add(sched.Frequency.Interval())
			sched.NextRun = &next
		}
		if cs := a.Config.ContextSettings; cs != nil && cs.CuratedItems == nil && old.ContextSettings != nil {
			cs.CuratedItems = old.ContextSettings.CuratedItems
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("agent_id", id).Msg("agent updated")
	return a, nil
}

// DeleteAgent removes the agent and everything it owns. It reports whether the
// agent existed.
func (s *Service) DeleteAgent(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.log(ctx).Info().Str("agent_id", id).Msg("agent deleted")
	}
	return deleted, nil
}

// RunNow runs the agent immediately.
func (s *Service) RunNow(ctx context.Context, id string) (*models.RunResult, error) {
	return s.runner.RunNow(ctx, id)
}

// EnableContinuous enrolls the agent in continuous mode.
func (s *Service) EnableContinuous(ctx context.Context, id string) (bool, error) {
	return s.runner.EnableContinuous(ctx, id)
}

// DisableContinuous removes the agent from continuous mode.
func (s *Service) DisableContinuous(ctx context.Context, id string) (bool, error) {
	return s.runner.DisableContinuous(ctx, id)
}

// SaveToContext adds item to the agent's curated context, or updates the
// notes and importance of the existing entry for the same item.
func (s *Service) SaveToContext(ctx context.Context, agentID string, item models.Item, notes *string, importance *models.Importance) (*models.CuratedItem, error) {
	if item.ID == 0 {
		return nil, fmt.Errorf("item id is required: %w", perrors.ErrInvalidInput)
	}
	if importance != nil && !importance.Valid() {
		return nil, fmt.Errorf("unknown importance %q: %w", *importance, perrors.ErrInvalidInput)
	}

	var saved models.CuratedItem
	_, err := s.store.Update(ctx, agentID, func(a *models.Agent) error {
		if a.Config.ContextSettings == nil {
			a.Config.ContextSettings = &models.ContextSettings{CuratedItems: []models.CuratedItem{}}
		}
		saved = s.curator.SaveItem(a.Config.ContextSettings, item, notes, importance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Debug().Str("agent_id", agentID).Int64("item_id", item.ID).Msg("item saved to context")
	return &saved, nil
}

var errNothingRemoved = errors.New("nothing removed")

// RemoveFromContext deletes a curated item by its local id. It reports false
// when the agent or the item does not exist.
func (s *Service) RemoveFromContext(ctx context.Context, agentID, curatedItemID string) (bool, error) {
	_, err := s.store.Update(ctx, agentID, func(a *models.Agent) error {
		if !curator.RemoveItem(a.Config.ContextSettings, curatedItemID) {
			return errNothingRemoved
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNothingRemoved), errors.Is(err, perrors.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// ListAgents returns all agents, or only those in status when it is set.
func (s *Service) ListAgents(ctx context.Context, status *models.Status) ([]*models.Agent, error) {
	var filter models.Status
	if status != nil {
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q: %w", *status, perrors.ErrInvalidInput)
		}
		filter = *status
	}
	return s.store.List(ctx, filter)
}

// ListRuns returns the agent's most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, agentID string, limit int) ([]models.RunResult, error) {
	return s.store.ListRuns(ctx, agentID, limit)
}

// Templates returns the available agent templates.
func (s *Service) Templates() []templates.Template {
	if s.templates == nil {
		return []templates.Template{}
	}
	return s.templates.List()
}

// validate defaults the frequency and checks that the criteria compile.
func (s *Service) validate(cfg *models.AgentConfig) error {
	if cfg.Schedule.Frequency == "" {
		cfg.Schedule.Frequency = models.FrequencyDaily
	}
	if !cfg.Schedule.Frequency.Valid() {
		return &perrors.CompilationError{Field: "schedule.frequency", Reason: fmt.Sprintf("unknown frequency %q", cfg.Schedule.Frequency)}
	}
	if cs := cfg.ContextSettings; cs != nil && cs.MaxCodeFiles < 0 {
		return &perrors.CompilationError{Field: "context_settings.max_code_files", Reason: "must not be negative"}
	}
	_, err := query.Compile(cfg.SearchCriteria, cfg.Filters, s.now())
	return err
}

// cloneConfig copies the reference-typed parts of cfg so templates and
// caller values are never aliased by stored agents.
func cloneConfig(cfg models.AgentConfig) models.AgentConfig {
	out := cfg
	out.SearchCriteria.Topics = append([]string(nil), cfg.SearchCriteria.Topics...)
	out.SearchCriteria.CodeSnippets = append([]string(nil), cfg.SearchCriteria.CodeSnippets...)
	if cfg.ContextSettings != nil {
		cs := *cfg.ContextSettings
		if cfg.ContextSettings.CuratedItems != nil {
			cs.CuratedItems = append([]models.CuratedItem{}, cfg.ContextSettings.CuratedItems...)
		}
		out.ContextSettings = &cs
	}
	return out
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	l := requestid.Logger(ctx, s.logger)
	return &l
}
