package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Start registers the jobs on a UTC cron using the schedules from the
// billing policy at start time. Callers stop it through the returned cron.
func (s *Scheduler) Start(ctx context.Context) (*cron.Cron, error) {
	policy := s.policy()
	c := cron.New(cron.WithLocation(time.UTC))

	entries := []struct {
		job  string
		spec string
		run  func(context.Context) error
	}{
		{JobFinalizeUsage, policy.FinalizeSchedule, func(ctx context.Context) error {
			_, err := s.FinalizeUsage(ctx)
			return err
		}},
		{JobChargeUsage, policy.ChargeSchedule, func(ctx context.Context) error {
			_, err := s.ChargeUsage(ctx)
			return err
		}},
		{JobEnforce, policy.EnforceSchedule, func(ctx context.Context) error {
			_, err := s.Enforce(ctx)
			return err
		}},
	}

	for _, entry := range entries {
		entry := entry
		if entry.spec == "" {
			s.log.Info("scheduler job disabled", zap.String("job", entry.job))
			continue
		}
		if _, err := c.AddFunc(entry.spec, func() {
			if err := entry.run(ctx); err != nil {
				s.log.Error("scheduler job failed", zap.String("job", entry.job), zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", entry.job, entry.spec, err)
		}
		s.log.Info("scheduler job registered", zap.String("job", entry.job), zap.String("schedule", entry.spec))
	}

	c.Start()
	return c, nil
}
