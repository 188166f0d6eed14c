package model

// Batch is the aggregate record for tasks submitted together.
// Invariant: Completed + Failed <= Total.
type Batch struct {
	ID        string   `json:"batch_id"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	TaskIDs   []string `json:"task_ids"`
}

// Resolved reports whether every constituent task reached a terminal state.
func (b *Batch) Resolved() bool {
	return b.Completed+b.Failed >= b.Total
}

// Clone returns a copy with its own task ID slice.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	c := *b
	c.TaskIDs = append([]string(nil), b.TaskIDs...)
	return &c
}

// BatchView is a batch summary together with snapshots of its tasks, in
// submission order.
type BatchView struct {
	Batch
	Tasks []*Task `json:"tasks"`
}
