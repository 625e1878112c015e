package scheduler

import (
	"context"
	"errors"
	"time"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

var (
	errNotEnrolled = errors.New("agent not in continuous mode")
	errNotDue      = errors.New("agent not due")
)

// EnableContinuous enrolls the agent in continuous mode. An agent that has
// never been scheduled becomes due at the next tick. It reports false for
// unknown agents.
func (s *Scheduler) EnableContinuous(ctx context.Context, id string) (bool, error) {
	now := s.clock()
	_, err := s.store.Update(ctx, id, func(a *models.Agent) error {
		a.Continuous = true
		if a.Config.Schedule.NextRun == nil {
			a.Config.Schedule.NextRun = &now
		}
		return nil
	})
	if errors.Is(err, perrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info().Str("agent_id", id).Msg("continuous mode enabled")
	return true, nil
}

// DisableContinuous removes the agent from continuous mode. A run already in
// flight completes normally. It reports false for unknown agents.
func (s *Scheduler) DisableContinuous(ctx context.Context, id string) (bool, error) {
	_, err := s.store.Update(ctx, id, func(a *models.Agent) error {
		a.Continuous = false
		return nil
	})
	if errors.Is(err, perrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info().Str("agent_id", id).Msg("continuous mode disabled")
	return true, nil
}

// Start runs the due-check loop until ctx is cancelled. Enrollment is read
// from the store on every tick, so agents enrolled before a restart resume
// without further action.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.TickInterval).Msg("scheduler started")
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick scans continuous agents once and starts a run for each one that is
// due and not running. Runs execute on their own goroutines; Tick does not
// wait for them. It returns the number of runs started.
func (s *Scheduler) Tick(ctx context.Context) int {
	agents, err := s.store.ListContinuous(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list continuous agents")
		return 0
	}

	now := s.clock()
	triggered := 0
	for _, a := range agents {
		if a.Status == models.StatusRunning || !a.Config.Schedule.Due(now) {
			continue
		}
		if _, busy := s.inflight.LoadOrStore(a.ID, struct{}{}); busy {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.inflight.Delete(a.ID)
			s.logger.Warn().Str("agent_id", a.ID).Msg("run capacity exhausted, deferring to next tick")
			continue
		}

		triggered++
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.inflight.Delete(id)
			s.runScheduled(context.WithoutCancel(ctx), id)
		}(a.ID)
	}

	s.recorder.RecordTick(triggered)
	if triggered > 0 {
		s.logger.Debug().Int("triggered", triggered).Int("enrolled", len(agents)).Msg("tick")
	}
	return triggered
}

// runScheduled re-checks enrollment, status and due time in the same store
// transaction that moves the agent to Running, so a concurrent disable or
// manual run wins cleanly.
func (s *Scheduler) runScheduled(ctx context.Context, id string) {
	now := s.clock()
	a, err := s.store.Update(ctx, id, func(a *models.Agent) error {
		switch {
		case !a.Continuous:
			return errNotEnrolled
		case a.Status == models.StatusRunning:
			return perrors.ErrAlreadyRunning
		case !a.Config.Schedule.Due(now):
			return errNotDue
		}
		a.Status = models.StatusRunning
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errNotEnrolled), errors.Is(err, errNotDue),
			errors.Is(err, perrors.ErrAlreadyRunning), errors.Is(err, perrors.ErrNotFound):
			s.logger.Debug().Str("agent_id", id).Err(err).Msg("scheduled run skipped")
		default:
			s.logger.Error().Str("agent_id", id).Err(err).Msg("failed to start scheduled run")
		}
		return
	}

	// Failures are recorded on the agent by execute.
	_, _ = s.execute(ctx, a)
}
