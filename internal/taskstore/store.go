// Package taskstore holds the process-local registry of tasks and batches.
package taskstore

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/clipscript/internal/model"
)

var (
	// ErrTaskNotFound is returned for unknown task identifiers.
	ErrTaskNotFound = eris.New("task not found")
	// ErrBatchNotFound is returned for unknown batch identifiers.
	ErrBatchNotFound = eris.New("batch not found")
	// ErrTerminal is returned when mutating a task that already finished.
	ErrTerminal = eris.New("task is terminal")
)

// Store owns every Task and Batch record for the lifetime of the process.
// Readers always receive copies; writers go through Update.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*model.Task
	batches map[string]*model.Batch
	nowFunc func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]*model.Task),
		batches: make(map[string]*model.Batch),
		nowFunc: time.Now,
	}
}

// NewTaskID returns a 12-character hex identifier.
func NewTaskID() string {
	return hexID()[:12]
}

// NewBatchID returns a batch identifier of the form batch_xxxxxxxx.
func NewBatchID() string {
	return "batch_" + hexID()[:8]
}

func hexID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// CreateTask registers a new PENDING task and returns a snapshot of it.
func (s *Store) CreateTask(url string, useLLM bool) *model.Task {
	t := &model.Task{
		ID:        NewTaskID(),
		URL:       url,
		UseLLM:    useLLM,
		Status:    model.TaskStatusPending,
		CreatedAt: s.nowFunc(),
	}

	s.mu.Lock()
	for s.tasks[t.ID] != nil {
		t.ID = NewTaskID()
	}
	s.tasks[t.ID] = t
	s.mu.Unlock()

	return t.Clone()
}

// GetTask returns a snapshot of the task. The snapshot may be stale as soon
// as it is returned.
func (s *Store) GetTask(id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, eris.Wrapf(ErrTaskNotFound, "taskstore: get %s", id)
	}
	return t.Clone(), nil
}

// Update applies fn to a working copy of the task and commits it atomically,
// so concurrent readers only ever observe complete state/progress pairs.
// Terminal tasks are immutable and progress never moves backwards.
func (s *Store) Update(id string, fn func(t *model.Task)) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[id]
	if !ok {
		return nil, eris.Wrapf(ErrTaskNotFound, "taskstore: update %s", id)
	}
	if cur.Status.IsTerminal() {
		return cur.Clone(), eris.Wrapf(ErrTerminal, "taskstore: update %s", id)
	}

	next := cur.Clone()
	fn(next)

	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	if next.Progress < cur.Progress {
		next.Progress = cur.Progress
	}
	if next.Progress > model.ProgressComplete {
		next.Progress = model.ProgressComplete
	}

	s.tasks[id] = next
	return next.Clone(), nil
}

// CreateBatch registers a batch over already-created task IDs.
func (s *Store) CreateBatch(taskIDs []string) *model.Batch {
	b := &model.Batch{
		ID:      NewBatchID(),
		Total:   len(taskIDs),
		TaskIDs: append([]string(nil), taskIDs...),
	}

	s.mu.Lock()
	for s.batches[b.ID] != nil {
		b.ID = NewBatchID()
	}
	s.batches[b.ID] = b
	s.mu.Unlock()

	return b.Clone()
}

// GetBatch returns a snapshot of the batch summary.
func (s *Store) GetBatch(id string) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, eris.Wrapf(ErrBatchNotFound, "taskstore: get %s", id)
	}
	return b.Clone(), nil
}

// GetBatchView returns the batch summary together with snapshots of its
// tasks in submission order. Evicted tasks are omitted.
func (s *Store) GetBatchView(id string) (*model.BatchView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, eris.Wrapf(ErrBatchNotFound, "taskstore: get %s", id)
	}

	view := &model.BatchView{Batch: *b.Clone(), Tasks: make([]*model.Task, 0, len(b.TaskIDs))}
	for _, tid := range b.TaskIDs {
		if t, ok := s.tasks[tid]; ok {
			view.Tasks = append(view.Tasks, t.Clone())
		}
	}
	return view, nil
}

// RecordOutcome counts one terminal task against the batch. Counts never
// exceed the batch total.
func (s *Store) RecordOutcome(batchID string, status model.TaskStatus) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, eris.Wrapf(ErrBatchNotFound, "taskstore: record %s", batchID)
	}
	if b.Resolved() {
		return b.Clone(), eris.Errorf("taskstore: batch %s already resolved", batchID)
	}

	if status == model.TaskStatusCompleted {
		b.Completed++
	} else {
		b.Failed++
	}
	return b.Clone(), nil
}

// Counts returns the number of tracked tasks and batches.
func (s *Store) Counts() (tasks, batches int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks), len(s.batches)
}

// Stats summarizes tasks by state.
type Stats struct {
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	OpenBatches int `json:"open_batches"`
}

// Stats counts tasks created at or after since. A zero since counts all.
func (s *Store) Stats(since time.Time) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, t := range s.tasks {
		if t.CreatedAt.Before(since) {
			continue
		}
		switch {
		case t.Status == model.TaskStatusCompleted:
			st.Completed++
		case t.Status == model.TaskStatusFailed:
			st.Failed++
		case t.Status.IsRunning():
			st.Running++
		default:
			st.Pending++
		}
	}
	for _, b := range s.batches {
		if !b.Resolved() {
			st.OpenBatches++
		}
	}
	return st
}
