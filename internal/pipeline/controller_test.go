package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/taskstore"
)

func batchURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.douyin.com/video/%d", 7300+i)
	}
	return urls
}

// flakyDownloader fails every URL containing fail.
type flakyDownloader struct {
	fakeDownloader
	fail string
}

func (f *flakyDownloader) Download(ctx context.Context, url, cookiesFile, workDir string) (string, model.VideoInfo, error) {
	if f.fail != "" && strings.Contains(url, f.fail) {
		return "", model.VideoInfo{}, errors.New("HTTP Error 404: Not Found")
	}
	return f.fakeDownloader.Download(ctx, url, cookiesFile, workDir)
}

func newController(t *testing.T, h *harness, cfg ControllerConfig) *Controller {
	t.Helper()
	h.deps.Store = h.store
	runner := NewRunner(h.deps)
	return NewController(context.Background(), h.store.Store, runner, cfg)
}

func TestSubmitBatch_RespectsConcurrencyCap(t *testing.T) {
	h := newHarness(t)
	h.tr.delay = 30 * time.Millisecond
	c := newController(t, h, ControllerConfig{MaxConcurrency: 2})

	batch, wait, err := c.SubmitBatch(batchURLs(5), false)
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Total)
	assert.Len(t, batch.TaskIDs, 5)

	// Stats counts every task under one lock, so each sample is a
	// consistent view of how many tasks sit in a blocking stage.
	done := make(chan struct{})
	var maxRunning int
	var sampler sync.WaitGroup
	sampler.Add(1)
	go func() {
		defer sampler.Done()
		for {
			if n := c.Store().Stats(time.Time{}).Running; n > maxRunning {
				maxRunning = n
			}
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	final := wait()
	close(done)
	sampler.Wait()

	assert.Equal(t, 5, final.Completed)
	assert.Zero(t, final.Failed)
	assert.LessOrEqual(t, maxRunning, 2, "no more than two tasks in a running stage at once")
	assert.Positive(t, maxRunning)
	assert.LessOrEqual(t, h.tr.maxSeen.Load(), int32(2))
	assert.Equal(t, int32(2), h.tr.maxSeen.Load(), "cap should be reached with 5 slow tasks")

	for _, id := range final.TaskIDs {
		task, err := c.Store().GetTask(id)
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, task.Status)
	}
}

func TestSubmitBatch_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	dl := &flakyDownloader{fail: "7301"}
	h.deps.Downloader = dl
	c := newController(t, h, ControllerConfig{MaxConcurrency: 3})

	_, wait, err := c.SubmitBatch(batchURLs(4), false)
	require.NoError(t, err)

	final := wait()
	assert.Equal(t, 3, final.Completed)
	assert.Equal(t, 1, final.Failed)
	assert.Equal(t, final.Total, final.Completed+final.Failed)
	assert.True(t, final.Resolved())
}

func TestSubmitBatch_CountsNeverExceedTotal(t *testing.T) {
	h := newHarness(t)
	h.tr.delay = 5 * time.Millisecond
	c := newController(t, h, ControllerConfig{MaxConcurrency: 4})

	batch, wait, err := c.SubmitBatch(batchURLs(8), false)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			b, err := c.Store().GetBatch(batch.ID)
			if assert.NoError(t, err) {
				assert.LessOrEqual(t, b.Completed+b.Failed, b.Total)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	final := wait()
	close(done)
	wg.Wait()
	assert.Equal(t, 8, final.Completed+final.Failed)
}

func TestSubmitBatch_RejectsOversized(t *testing.T) {
	h := newHarness(t)
	c := newController(t, h, ControllerConfig{})

	_, _, err := c.SubmitBatch(batchURLs(MaxBatchSize+1), false)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	tasks, batches := c.Store().Counts()
	assert.Zero(t, tasks)
	assert.Zero(t, batches)
}

func TestSubmitBatch_RejectsInvalidWithoutCreatingTasks(t *testing.T) {
	h := newHarness(t)
	c := newController(t, h, ControllerConfig{})

	_, _, err := c.SubmitBatch([]string{"https://www.douyin.com/video/1", "https://example.com/x"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://example.com/x")

	tasks, _ := c.Store().Counts()
	assert.Zero(t, tasks)
}

func TestSubmit_ReturnsPendingTask(t *testing.T) {
	h := newHarness(t)
	c := newController(t, h, ControllerConfig{})

	task, err := c.Submit("  https://v.douyin.com/iRNBho6u/  ", true)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)
	assert.Equal(t, "https://v.douyin.com/iRNBho6u/", task.URL)

	c.Wait()
	got, err := c.Store().GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
}

func TestSubmit_RejectsUnsupported(t *testing.T) {
	h := newHarness(t)
	c := newController(t, h, ControllerConfig{})

	_, err := c.Submit("https://www.youtube.com/watch?v=x", false)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	tasks, _ := c.Store().Counts()
	assert.Zero(t, tasks)
}

func TestSubmitFile(t *testing.T) {
	h := newHarness(t)
	c := newController(t, h, ControllerConfig{})
	path := filepath.Join(t.TempDir(), "上传.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))

	task := c.SubmitFile(path, "", "", false)
	assert.Equal(t, "file:///上传.mp4", task.URL)

	c.Wait()
	got, err := c.Store().GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, "上传.mp4", got.VideoInfo.Title)
	assert.Equal(t, "upload", got.VideoInfo.Author)
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(context.Background(), taskstore.New(), nil, ControllerConfig{MaxBatchSize: 500})
	assert.Equal(t, DefaultMaxConcurrency, c.Config().MaxConcurrency)
	assert.Equal(t, MaxBatchSize, c.Config().MaxBatchSize)
}
