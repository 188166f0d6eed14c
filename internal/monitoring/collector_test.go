package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/clipscript/internal/resilience"
	"github.com/sells-group/clipscript/internal/taskstore"
)

type fakeCounter struct {
	stats taskstore.Stats
	since time.Time
}

func (f *fakeCounter) Stats(since time.Time) taskstore.Stats {
	f.since = since
	return f.stats
}

type fakeBreaker resilience.CircuitState

func (f fakeBreaker) State() resilience.CircuitState { return resilience.CircuitState(f) }

func TestCollector_Counts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := &fakeCounter{stats: taskstore.Stats{Pending: 1, Running: 2, Completed: 6, Failed: 2, OpenBatches: 1}}
	c := NewCollector(counter, nil)
	c.nowFunc = func() time.Time { return now }

	snap := c.Collect(30)
	assert.Equal(t, 11, snap.TasksTotal)
	assert.Equal(t, 8, snap.Finished())
	assert.InDelta(t, 0.25, snap.FailRate, 1e-9)
	assert.Equal(t, 1, snap.OpenBatches)
	assert.Equal(t, now.Add(-30*time.Minute), counter.since)
	assert.Empty(t, snap.EnhanceCircuit)
}

func TestCollector_NoWindowNoFinished(t *testing.T) {
	counter := &fakeCounter{stats: taskstore.Stats{Pending: 3}}
	snap := NewCollector(counter, nil).Collect(0)

	assert.True(t, counter.since.IsZero())
	assert.Zero(t, snap.FailRate)
	assert.Equal(t, 3, snap.TasksTotal)
}

func TestCollector_BreakerState(t *testing.T) {
	snap := NewCollector(&fakeCounter{}, fakeBreaker(resilience.CircuitOpen)).Collect(60)
	assert.Equal(t, "open", snap.EnhanceCircuit)
}

func TestCollector_LiveStore(t *testing.T) {
	tasks := taskstore.New()
	task := tasks.CreateTask("https://v.douyin.com/a/", false)
	tasks.CreateTask("https://v.douyin.com/b/", false)

	snap := NewCollector(tasks, nil).Collect(60)
	assert.Equal(t, 2, snap.TasksPending)
	assert.NotEmpty(t, task.ID)
}
