package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

const agentColumns = `
	a.id, a.name, a.description, a.status, a.config, a.last_run_at,
	a.created_at, a.updated_at,
	EXISTS(SELECT 1 FROM continuous_agents c WHERE c.agent_id = a.id)
`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new agent. Run history on a is ignored.
func (s *Store) Create(ctx context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Millisecond)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = models.StatusIdle
	}

	config, err := json.Marshal(a.Config)
	if err != nil {
		return &perrors.StoreError{Op: "create", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &perrors.StoreError{Op: "create", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO agents (id, name, description, status, config, last_run_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Description, string(a.Status), string(config),
		nullMillis(a.LastRunAt), a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return &perrors.StoreError{Op: "create", Err: err}
	}
	if err := setContinuous(ctx, tx, a.ID, a.Continuous, now); err != nil {
		return &perrors.StoreError{Op: "create", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &perrors.StoreError{Op: "create", Err: err}
	}

	a.RunHistory = []models.RunResult{}
	return nil
}

// Get returns the agent with its full run history, oldest run first.
func (s *Store) Get(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAgent(ctx, s.db, id)
}

// List returns agents ordered by creation time, optionally restricted to one
// status. Each agent carries its run history.
func (s *Store) List(ctx context.Context, status models.Status) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT` + agentColumns + `FROM agents a`
	args := []any{}
	if status != "" {
		query += ` WHERE a.status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY a.created_at, a.id`

	agents, err := queryAgents(ctx, s.db, query, args...)
	if err != nil {
		return nil, &perrors.StoreError{Op: "list", Err: err}
	}
	for _, a := range agents {
		if a.RunHistory, err = loadRuns(ctx, s.db, a.ID); err != nil {
			return nil, &perrors.StoreError{Op: "list", Err: err}
		}
	}
	return agents, nil
}

// ListContinuous returns the agents enrolled in continuous mode without their
// run history.
func (s *Store) ListContinuous(ctx context.Context) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents, err := queryAgents(ctx, s.db, `
	SELECT`+agentColumns+`FROM agents a
	JOIN continuous_agents ca ON ca.agent_id = a.id
	ORDER BY ca.enabled_at, a.id
	`)
	if err != nil {
		return nil, &perrors.StoreError{Op: "list continuous", Err: err}
	}
	return agents, nil
}

// Update loads the agent, applies fn and writes the result in a single
// transaction. If fn returns an error nothing is written and that error is
// returned as is. Changes fn makes to RunHistory are not persisted.
func (s *Store) Update(ctx context.Context, id string, fn func(a *models.Agent) error) (*models.Agent, error) {
	return s.update(ctx, id, nil, fn)
}

// Patch shallow-merges p into the agent.
func (s *Store) Patch(ctx context.Context, id string, p models.AgentPatch) (*models.Agent, error) {
	return s.Update(ctx, id, func(a *models.Agent) error {
		p.Apply(a)
		return nil
	})
}

// AppendRun records run for its agent and applies fn in the same
// transaction, so the run and the status change land together or not at all.
// fn observes the agent with run already appended to its history.
func (s *Store) AppendRun(ctx context.Context, run *models.RunResult, fn func(a *models.Agent) error) (*models.Agent, error) {
	return s.update(ctx, run.AgentID, run, fn)
}

// BeginRun moves the agent into Running unless it already is, in which case
// ErrAlreadyRunning is returned. The returned agent carries its history.
func (s *Store) BeginRun(ctx context.Context, id string) (*models.Agent, error) {
	return s.Update(ctx, id, func(a *models.Agent) error {
		if a.Status == models.StatusRunning {
			return perrors.ErrAlreadyRunning
		}
		a.Status = models.StatusRunning
		return nil
	})
}

// Delete removes the agent together with its runs and continuous enrollment.
// It reports whether an agent was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return false, &perrors.StoreError{Op: "delete", Err: err}
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, &perrors.StoreError{Op: "delete", Err: err}
	}
	return rows > 0, nil
}

// FailStuckAgents moves agents left Running by a previous process into Error,
// counts the interrupted run as their last run and schedules the next attempt
// one interval from now. It returns the
// number of agents recovered.
func (s *Store) FailStuckAgents(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &perrors.StoreError{Op: "recover", Err: err}
	}
	defer tx.Rollback()

	stuck, err := queryAgents(ctx, tx, `SELECT`+agentColumns+`FROM agents a WHERE a.status = ?`, string(models.StatusRunning))
	if err != nil {
		return 0, &perrors.StoreError{Op: "recover", Err: err}
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	for _, a := range stuck {
		a.Status = models.StatusError
		a.LastRunAt = &now
		a.Config.Schedule.LastRun = &now
		next := now.Add(a.Config.Schedule.Frequency.Interval())
		a.Config.Schedule.NextRun = &next
		if err := s.writeAgent(ctx, tx, a); err != nil {
			return 0, &perrors.StoreError{Op: "recover", Err: err}
		}
		s.logger.Warn().Str("agent_id", a.ID).Msg("agent was running at shutdown, marked as error")
	}

	if err := tx.Commit(); err != nil {
		return 0, &perrors.StoreError{Op: "recover", Err: err}
	}
	return len(stuck), nil
}

func (s *Store) update(ctx context.Context, id string, run *models.RunResult, fn func(a *models.Agent) error) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &perrors.StoreError{Op: "update", Err: err}
	}
	defer tx.Rollback()

	a, err := getAgent(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if run != nil {
		if err := insertRun(ctx, tx, run); err != nil {
			return nil, &perrors.StoreError{Op: "append run", Err: err}
		}
		a.RunHistory = append(a.RunHistory, *run)
	}

	if err := fn(a); err != nil {
		return nil, err
	}

	if err := s.writeAgent(ctx, tx, a); err != nil {
		return nil, &perrors.StoreError{Op: "update", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &perrors.StoreError{Op: "update", Err: err}
	}
	return a, nil
}

func (s *Store) writeAgent(ctx context.Context, q querier, a *models.Agent) error {
	config, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	a.UpdatedAt = now
	_, err = q.ExecContext(ctx, `
	UPDATE agents
	SET name = ?, description = ?, status = ?, config = ?, last_run_at = ?, updated_at = ?
	WHERE id = ?
	`, a.Name, a.Description, string(a.Status), string(config),
		nullMillis(a.LastRunAt), now.UnixMilli(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return setContinuous(ctx, q, a.ID, a.Continuous, now)
}

func setContinuous(ctx context.Context, q querier, id string, enabled bool, now time.Time) error {
	var err error
	if enabled {
		_, err = q.ExecContext(ctx,
			`INSERT OR IGNORE INTO continuous_agents (agent_id, enabled_at) VALUES (?, ?)`,
			id, now.UnixMilli(),
		)
	} else {
		_, err = q.ExecContext(ctx, `DELETE FROM continuous_agents WHERE agent_id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("failed to set continuous mode: %w", err)
	}
	return nil
}

func getAgent(ctx context.Context, q querier, id string) (*models.Agent, error) {
	row := q.QueryRowContext(ctx, `SELECT`+agentColumns+`FROM agents a WHERE a.id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s: %w", id, perrors.ErrNotFound)
	}
	if err != nil {
		return nil, &perrors.StoreError{Op: "get", Err: err}
	}

	if a.RunHistory, err = loadRuns(ctx, q, id); err != nil {
		return nil, &perrors.StoreError{Op: "get", Err: err}
	}
	return a, nil
}

func queryAgents(ctx context.Context, q querier, query string, args ...any) ([]*models.Agent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	agents := []*models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func scanAgent(r rowScanner) (*models.Agent, error) {
	var (
		a          models.Agent
		status     string
		config     string
		lastRunAt  sql.NullInt64
		createdAt  int64
		updatedAt  int64
		continuous bool
	)
	err := r.Scan(
		&a.ID, &a.Name, &a.Description, &status, &config, &lastRunAt,
		&createdAt, &updatedAt, &continuous,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config of agent %s: %w", a.ID, err)
	}
	a.Status = models.Status(status)
	if lastRunAt.Valid {
		t := fromMillis(lastRunAt.Int64)
		a.LastRunAt = &t
	}
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.Continuous = continuous
	a.RunHistory = []models.RunResult{}
	return &a, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
