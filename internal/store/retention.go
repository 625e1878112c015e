package store

import (
	"context"
	"fmt"
)

// PruneRuns keeps the keep most recent runs of every agent and deletes the
// rest. The differ only ever reads the latest run, so any keep >= 1 preserves
// its inputs. It returns the number of runs deleted.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
	DELETE FROM run_results WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY agent_id ORDER BY ran_at DESC, rowid DESC
			) AS rn
			FROM run_results
		) WHERE rn > ?
	)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Int("keep", keep).Msg("pruned run history")
	}
	return deleted, nil
}
