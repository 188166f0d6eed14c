// Package monitoring watches task outcomes in a running server and raises
// webhook alerts when failures pile up.
package monitoring

import (
	"time"

	"github.com/sells-group/clipscript/internal/resilience"
	"github.com/sells-group/clipscript/internal/taskstore"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	TasksTotal     int     `json:"tasks_total"`
	TasksPending   int     `json:"tasks_pending"`
	TasksRunning   int     `json:"tasks_running"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	FailRate       float64 `json:"fail_rate"`
	OpenBatches    int     `json:"open_batches"`

	// EnhanceCircuit is empty when enhancement is not configured.
	EnhanceCircuit string `json:"enhance_circuit,omitempty"`

	LookbackMins int       `json:"lookback_mins"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Finished counts tasks that reached a terminal state.
func (m *MetricsSnapshot) Finished() int {
	return m.TasksCompleted + m.TasksFailed
}

// TaskCounter is the slice of the task store the collector reads.
type TaskCounter interface {
	Stats(since time.Time) taskstore.Stats
}

// BreakerReader reports a circuit breaker position.
type BreakerReader interface {
	State() resilience.CircuitState
}

// Collector gathers snapshots from the live task store.
type Collector struct {
	tasks   TaskCounter
	breaker BreakerReader
	nowFunc func() time.Time
}

// NewCollector creates a collector. breaker may be nil.
func NewCollector(tasks TaskCounter, breaker BreakerReader) *Collector {
	return &Collector{tasks: tasks, breaker: breaker, nowFunc: time.Now}
}

// Collect snapshots tasks created within the last lookbackMins minutes.
// A non-positive window covers every task still held in memory.
func (c *Collector) Collect(lookbackMins int) *MetricsSnapshot {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackMins: lookbackMins,
		CollectedAt:  now,
	}

	var since time.Time
	if lookbackMins > 0 {
		since = now.Add(-time.Duration(lookbackMins) * time.Minute)
	}
	st := c.tasks.Stats(since)

	snap.TasksPending = st.Pending
	snap.TasksRunning = st.Running
	snap.TasksCompleted = st.Completed
	snap.TasksFailed = st.Failed
	snap.TasksTotal = st.Pending + st.Running + st.Completed + st.Failed
	snap.OpenBatches = st.OpenBatches
	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.TasksFailed) / float64(finished)
	}

	if c.breaker != nil {
		snap.EnhanceCircuit = c.breaker.State().String()
	}
	return snap
}
