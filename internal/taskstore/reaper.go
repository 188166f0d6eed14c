package taskstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Evict removes terminal tasks that finished before cutoff, then removes
// batches that are resolved and have no remaining tasks. Non-terminal tasks
// are never evicted.
func (s *Store) Evict(cutoff time.Time) (tasks, batches int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tasks {
		if !t.Status.IsTerminal() {
			continue
		}
		finished := t.CreatedAt
		if t.CompletedAt != nil {
			finished = *t.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(s.tasks, id)
			tasks++
		}
	}

	for id, b := range s.batches {
		if !b.Resolved() {
			continue
		}
		remaining := false
		for _, tid := range b.TaskIDs {
			if _, ok := s.tasks[tid]; ok {
				remaining = true
				break
			}
		}
		if !remaining {
			delete(s.batches, id)
			batches++
		}
	}

	return tasks, batches
}

// RunReaper evicts terminal tasks older than retention every interval until
// ctx is cancelled. A non-positive retention disables the reaper.
func (s *Store) RunReaper(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t, b := s.Evict(s.nowFunc().Add(-retention))
			if t > 0 || b > 0 {
				zap.L().Info("taskstore: evicted stale records",
					zap.Int("tasks", t),
					zap.Int("batches", b),
				)
			}
		}
	}
}
