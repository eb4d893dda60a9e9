package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartScheduler runs FlushOnce on a fixed interval until Stop. Failures
// are logged and retried on the next tick; the pass itself guards against
// overlap.
func (s *Syncer) StartScheduler(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("start flush scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if _, err := s.FlushOnce(ctx); err != nil {
				s.log.Warn("scheduled flush failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("start flush scheduler: %w", err)
	}
	sched.Start()
	s.sched = sched
	return nil
}

// Stop shuts the scheduler down; durable state is untouched and a
// subsequent StartScheduler resumes passes.
func (s *Syncer) Stop() {
	s.mu.Lock()
	sched := s.sched
	s.sched = nil
	s.mu.Unlock()
	if sched != nil {
		_ = sched.Shutdown()
	}
}
