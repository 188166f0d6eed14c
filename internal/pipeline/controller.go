package pipeline

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/taskstore"
)

// DefaultMaxConcurrency bounds simultaneously running tasks in a batch.
const DefaultMaxConcurrency = 3

// TaskRunner runs one task to completion.
type TaskRunner interface {
	Run(ctx context.Context, id string, src Source) *model.Task
}

// ControllerConfig tunes admission.
type ControllerConfig struct {
	MaxConcurrency int
	MaxBatchSize   int
}

// Controller creates tasks in the store and launches their runners in the
// background. Work launched here is tracked so Wait can drain it at shutdown.
type Controller struct {
	store  *taskstore.Store
	runner TaskRunner
	cfg    ControllerConfig
	// ctx outlives individual requests; cancelling it fails in-flight calls.
	ctx      context.Context
	inflight sync.WaitGroup
}

// NewController creates a Controller whose background work runs under ctx.
func NewController(ctx context.Context, store *taskstore.Store, runner TaskRunner, cfg ControllerConfig) *Controller {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxBatchSize <= 0 || cfg.MaxBatchSize > MaxBatchSize {
		cfg.MaxBatchSize = MaxBatchSize
	}
	return &Controller{store: store, runner: runner, cfg: cfg, ctx: ctx}
}

// Store returns the task store the controller writes to.
func (c *Controller) Store() *taskstore.Store { return c.store }

// Config returns the effective admission settings.
func (c *Controller) Config() ControllerConfig { return c.cfg }

// Submit validates url, creates a PENDING task and starts it in the
// background. The returned snapshot is taken before any stage runs.
func (c *Controller) Submit(url string, useLLM bool) (*model.Task, error) {
	u, err := ValidateURL(url)
	if err != nil {
		return nil, err
	}
	t := c.store.CreateTask(u, useLLM)
	c.launch(t.ID, Source{URL: u})
	return t, nil
}

// SubmitFile creates a task for a local media file and starts it in the
// background. name is the user-facing file name; it defaults to the base of
// path. The file is removed once the task is terminal.
func (c *Controller) SubmitFile(path, name, title string, useLLM bool) *model.Task {
	if name == "" {
		name = filepath.Base(path)
	}
	if title == "" {
		title = name
	}
	src := Source{
		URL:       "file:///" + name,
		LocalFile: path,
		Info:      &model.VideoInfo{Title: title, Author: "upload", URL: "file:///" + name},
	}
	t := c.store.CreateTask(src.URL, useLLM)
	c.launch(t.ID, src)
	return t
}

// SubmitBatch validates every URL up front, creates all tasks and the batch,
// then runs the tasks with at most MaxConcurrency in flight. It returns the
// initial batch and a wait function that blocks until every task is terminal
// and returns the final batch. No task is created when validation fails.
func (c *Controller) SubmitBatch(urls []string, useLLM bool) (*model.Batch, func() *model.Batch, error) {
	cleaned, err := ValidateBatch(urls, c.cfg.MaxBatchSize)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(cleaned))
	for i, u := range cleaned {
		ids[i] = c.store.CreateTask(u, useLLM).ID
	}
	batch := c.store.CreateBatch(ids)

	log := zap.L().With(zap.String("batch_id", batch.ID))
	log.Info("pipeline: batch submitted",
		zap.Int("total", batch.Total),
		zap.Int("max_concurrency", c.cfg.MaxConcurrency),
	)

	done := make(chan struct{})
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer close(done)

		g := new(errgroup.Group)
		g.SetLimit(c.cfg.MaxConcurrency)
		for i, id := range ids {
			g.Go(func() error {
				final := c.runner.Run(c.ctx, id, Source{URL: cleaned[i]})
				status := model.TaskStatusFailed
				if final != nil {
					status = final.Status
				}
				if _, err := c.store.RecordOutcome(batch.ID, status); err != nil {
					log.Warn("pipeline: record batch outcome", zap.String("task_id", id), zap.Error(err))
				}
				// Sibling failures never abort the batch.
				return nil
			})
		}
		_ = g.Wait()

		if b, err := c.store.GetBatch(batch.ID); err == nil {
			log.Info("pipeline: batch resolved",
				zap.Int("completed", b.Completed),
				zap.Int("failed", b.Failed),
			)
		}
	}()

	wait := func() *model.Batch {
		<-done
		b, err := c.store.GetBatch(batch.ID)
		if err != nil {
			return batch
		}
		return b
	}
	return batch, wait, nil
}

// Wait blocks until every launched task and batch has finished.
func (c *Controller) Wait() { c.inflight.Wait() }

func (c *Controller) launch(id string, src Source) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.runner.Run(c.ctx, id, src)
	}()
}
