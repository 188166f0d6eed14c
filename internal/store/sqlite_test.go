package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clipscript/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleRun(taskID string, status model.TaskStatus, completed time.Time) *model.Run {
	return &model.Run{
		TaskID:      taskID,
		URL:         "https://www.douyin.com/video/" + taskID,
		Title:       "标题 " + taskID,
		Author:      "作者",
		Status:      status,
		Language:    "zh",
		Confidence:  0.87,
		Enhanced:    true,
		FinalText:   "全文",
		JSONPath:    "output/" + taskID + ".json",
		TextPath:    "output/" + taskID + ".txt",
		CreatedAt:   completed.Add(-time.Minute),
		CompletedAt: completed,
	}
}

func TestSQLite_RecordAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	r := sampleRun("task1", model.TaskStatusCompleted, now)
	require.NoError(t, st.RecordRun(ctx, r))
	require.NotEmpty(t, r.ID)

	byID, err := st.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "task1", byID.TaskID)
	assert.Equal(t, model.TaskStatusCompleted, byID.Status)
	assert.True(t, byID.Enhanced)
	assert.InDelta(t, 0.87, byID.Confidence, 1e-9)
	assert.True(t, now.Equal(byID.CompletedAt))

	byTask, err := st.GetRun(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byTask.ID)
}

func TestSQLite_RecordRun_UpsertsByTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := sampleRun("task1", model.TaskStatusFailed, now)
	first.Error = "download failed"
	require.NoError(t, st.RecordRun(ctx, first))

	second := sampleRun("task1", model.TaskStatusCompleted, now.Add(time.Minute))
	require.NoError(t, st.RecordRun(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	got, err := st.GetRun(ctx, "task1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRunNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, st.RecordRun(ctx, sampleRun("a", model.TaskStatusCompleted, base)))
	require.NoError(t, st.RecordRun(ctx, sampleRun("b", model.TaskStatusFailed, base.Add(time.Minute))))
	require.NoError(t, st.RecordRun(ctx, sampleRun("c", model.TaskStatusCompleted, base.Add(2*time.Minute))))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].TaskID, "newest first")

	completed, err := st.ListRuns(ctx, RunFilter{Status: model.TaskStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].TaskID)
}

func TestOpen_SQLiteAndUnsupported(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "SQLite", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = Open(ctx, "mysql", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
