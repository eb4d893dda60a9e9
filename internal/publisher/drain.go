package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Synced  int
	Failed  int
	Skipped int // transient failures left pending for the next drain
}

// Drain replays pending outbox entries through the live-delivery path,
// oldest first. At most one drain runs at a time; a second call while one
// is in flight is a no-op, as is draining while disconnected. Each entry
// gets a single delivery attempt per pass.
func (s *Service) Drain(ctx context.Context) (DrainResult, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return DrainResult{}, nil
	}
	s.draining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()
	}()

	if !s.ch.Connected() {
		return DrainResult{}, nil
	}

	entries, err := s.store.PendingOutbox(ctx)
	if err != nil {
		return DrainResult{}, fmt.Errorf("drain: %w", err)
	}
	if len(entries) == 0 {
		return DrainResult{}, nil
	}
	s.log.Info("draining outbox", zap.Int("pending", len(entries)))

	var res DrainResult
	for _, entry := range entries {
		ev, decodeErr := eventFromEntry(entry)
		if decodeErr != nil {
			// One bad entry must not stop the loop; park it with a reason.
			if err := s.store.MarkOutboxFailed(ctx, entry.ID, decodeErr.Error()); err != nil {
				return res, fmt.Errorf("drain: %w", err)
			}
			s.log.Warn("outbox entry malformed",
				zap.String("entry_id", entry.ID), zap.Error(decodeErr))
			res.Failed++
			continue
		}

		err := s.ch.Emit(ctx, ev)
		switch {
		case err == nil:
			if err := s.store.MarkOutboxSynced(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("drain: %w", err)
			}
			res.Synced++
		case isRejection(err):
			if err := s.store.MarkOutboxFailed(ctx, entry.ID, "delivery rejected: "+err.Error()); err != nil {
				return res, fmt.Errorf("drain: %w", err)
			}
			s.log.Warn("outbox entry rejected by authority",
				zap.String("entry_id", entry.ID), zap.Error(err))
			res.Failed++
		default:
			// Transient: keep the entry pending and let the next drain
			// (triggered by the next reconnect) retry it.
			if err := s.store.BumpOutboxRetry(ctx, entry.ID); err != nil {
				return res, fmt.Errorf("drain: %w", err)
			}
			res.Skipped++
		}
	}

	s.log.Info("drain finished",
		zap.Int("synced", res.Synced), zap.Int("failed", res.Failed), zap.Int("skipped", res.Skipped))
	return res, nil
}
