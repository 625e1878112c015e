package store

import (
	"context"
	"encoding/json"
	"fmt"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

// ListRuns returns up to limit of the agent's most recent runs, newest
// first. A limit of zero or less returns all of them.
func (s *Store) ListRuns(ctx context.Context, agentID string, limit int) ([]models.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM agents WHERE id = ?)`, agentID).Scan(&exists); err != nil {
		return nil, &perrors.StoreError{Op: "list runs", Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("agent %s: %w", agentID, perrors.ErrNotFound)
	}

	query := `
	SELECT id, agent_id, ran_at, query, items, metrics
	FROM run_results WHERE agent_id = ?
	ORDER BY ran_at DESC, rowid DESC
	`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	runs, err := queryRuns(ctx, s.db, query, args...)
	if err != nil {
		return nil, &perrors.StoreError{Op: "list runs", Err: err}
	}
	return runs, nil
}

func insertRun(ctx context.Context, q querier, run *models.RunResult) error {
	items, err := json.Marshal(run.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	_, err = q.ExecContext(ctx, `
	INSERT INTO run_results (id, agent_id, ran_at, query, items, metrics)
	VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.AgentID, run.Timestamp.UnixMilli(), run.Query, string(items), string(metrics))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func loadRuns(ctx context.Context, q querier, agentID string) ([]models.RunResult, error) {
	return queryRuns(ctx, q, `
	SELECT id, agent_id, ran_at, query, items, metrics
	FROM run_results WHERE agent_id = ?
	ORDER BY ran_at, rowid
	`, agentID)
}

func queryRuns(ctx context.Context, q querier, query string, args ...any) ([]models.RunResult, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunResult{}
	for rows.Next() {
		var (
			r       models.RunResult
			ranAt   int64
			items   string
			metrics string
		)
		if err := rows.Scan(&r.ID, &r.AgentID, &ranAt, &r.Query, &items, &metrics); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &r.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items of run %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics of run %s: %w", r.ID, err)
		}
		r.Timestamp = fromMillis(ranAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
