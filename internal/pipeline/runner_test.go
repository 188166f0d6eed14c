package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clipscript/internal/media"
	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/resolver"
)

type harness struct {
	store     *recordingStore
	dl        *fakeDownloader
	ex        *fakeExtractor
	tr        *fakeTranscriber
	persister *fakePersister
	deps      Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newRecordingStore(),
		dl:        &fakeDownloader{},
		ex:        &fakeExtractor{},
		tr:        &fakeTranscriber{},
		persister: &fakePersister{},
	}
	h.deps = Deps{
		Store:       h.store,
		Downloader:  h.dl,
		Extractor:   h.ex,
		Transcriber: h.tr,
		Persister:   h.persister,
		TempDir:     t.TempDir(),
	}
	return h
}

func (h *harness) run(t *testing.T, useLLM bool) *model.Task {
	t.Helper()
	task := h.store.CreateTask("https://www.douyin.com/video/7301", useLLM)
	return NewRunner(h.deps).Run(context.Background(), task.ID, Source{URL: task.URL})
}

func assertMonotonic(t *testing.T, snaps []model.Task) {
	t.Helper()
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].Progress, snaps[i-1].Progress,
			"progress went backwards at %s", snaps[i].Status)
	}
}

func statuses(snaps []model.Task) []model.TaskStatus {
	var out []model.TaskStatus
	for _, s := range snaps {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func TestRun_CompletesWithoutEnhancer(t *testing.T) {
	h := newHarness(t)

	final := h.run(t, true)

	require.NotNil(t, final)
	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, model.ProgressComplete, final.Progress)
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.Transcript)
	assert.Equal(t, final.Transcript.RawText, final.Transcript.EnhancedText)
	assert.Equal(t, "测试视频", final.VideoInfo.Title)

	snaps := h.store.history(final.ID)
	assertMonotonic(t, snaps)
	assert.Equal(t, []model.TaskStatus{
		model.TaskStatusDownloading,
		model.TaskStatusExtractingAudio,
		model.TaskStatusTranscribing,
		model.TaskStatusCompleted,
	}, statuses(snaps))

	_, err := os.Stat(filepath.Join(h.deps.TempDir, final.ID))
	assert.True(t, os.IsNotExist(err), "work dir should be removed")
	require.Len(t, h.persister.finished, 1)
	assert.Equal(t, model.TaskStatusCompleted, h.persister.finished[0].Status)
}

func TestRun_Enhances(t *testing.T) {
	h := newHarness(t)
	enh := new(mockEnhancer)
	enh.On("Enhance", mock.Anything, "原始文本").Return("润色后的文本。", nil).Once()
	h.deps.Enhancer = enh

	final := h.run(t, true)

	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, "润色后的文本。", final.Transcript.EnhancedText)
	assert.Equal(t, "原始文本", final.Transcript.RawText)
	assert.Contains(t, statuses(h.store.history(final.ID)), model.TaskStatusEnhancing)
	enh.AssertExpectations(t)
}

func TestRun_EnhancementNotRequested(t *testing.T) {
	h := newHarness(t)
	enh := new(mockEnhancer)
	h.deps.Enhancer = enh

	final := h.run(t, false)

	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, final.Transcript.RawText, final.Transcript.EnhancedText)
	assert.NotContains(t, statuses(h.store.history(final.ID)), model.TaskStatusEnhancing)
	enh.AssertNotCalled(t, "Enhance", mock.Anything, mock.Anything)
}

func TestRun_EnhancementErrorKeepsRaw(t *testing.T) {
	h := newHarness(t)
	enh := new(mockEnhancer)
	enh.On("Enhance", mock.Anything, "原始文本").Return("原始文本", errors.New("llm timeout"))
	h.deps.Enhancer = enh

	final := h.run(t, true)

	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Empty(t, final.Error)
	assert.Equal(t, "原始文本", final.Transcript.EnhancedText)
}

func TestRun_EnhancementEmptyOutputKeepsRaw(t *testing.T) {
	h := newHarness(t)
	enh := new(mockEnhancer)
	enh.On("Enhance", mock.Anything, mock.Anything).Return("  ", nil)
	h.deps.Enhancer = enh

	final := h.run(t, true)
	assert.Equal(t, "原始文本", final.Transcript.EnhancedText)
}

func TestRun_ExtractFailure(t *testing.T) {
	h := newHarness(t)
	h.ex.err = &media.CommandError{
		Log: media.CommandLog{Command: "ffmpeg", ExitCode: 1, Stderr: "Invalid data found"},
		Err: errors.New("ffmpeg exited with code 1: Invalid data found"),
	}

	final := h.run(t, true)

	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, h.ex.err.Error(), final.Error)
	assert.Nil(t, final.Transcript)
	require.NotNil(t, final.CompletedAt)
	assertMonotonic(t, h.store.history(final.ID))
	require.Len(t, h.persister.finished, 1)
	assert.Equal(t, model.TaskStatusFailed, h.persister.finished[0].Status)
}

func TestRun_FailureAfterTranscriptionKeepsRawTranscript(t *testing.T) {
	h := newHarness(t)
	enh := new(mockEnhancer)
	enh.On("Enhance", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("enhancer exploded")
	})
	h.deps.Enhancer = enh

	final := h.run(t, true)

	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Contains(t, final.Error, "enhancer exploded")
	require.NotNil(t, final.Transcript)
	assert.Equal(t, "原始文本", final.Transcript.RawText)
	_, err := os.Stat(filepath.Join(h.deps.TempDir, final.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_TranscriberPanicRecorded(t *testing.T) {
	h := newHarness(t)
	h.tr.panics = true

	final := h.run(t, false)

	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Contains(t, final.Error, "model crashed")
	assert.Nil(t, final.Transcript)
}

func TestRun_TranscriberErrorVerbatim(t *testing.T) {
	h := newHarness(t)
	h.tr.err = errors.New("whisper: out of memory")

	final := h.run(t, false)

	assert.Equal(t, "whisper: out of memory", final.Error)
	assert.Equal(t, model.TaskStatusFailed, final.Status)
}

func TestRun_ResolverExhaustedFailsBeforeDownload(t *testing.T) {
	h := newHarness(t)
	exhausted := &resolver.ExhaustedError{Attempts: []resolver.Attempt{
		{Strategy: resolver.Named("chrome"), Err: errors.New("database is locked")},
	}}
	h.deps.Resolver = &fakeResolver{err: exhausted}

	final := h.run(t, false)

	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, exhausted.Error(), final.Error)
	assert.Empty(t, h.dl.cookies, "download must not run")
}

func TestRun_PassesResolvedCookies(t *testing.T) {
	h := newHarness(t)
	h.deps.Resolver = &fakeResolver{path: "/tmp/cookies.txt"}

	final := h.run(t, false)

	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, []string{"/tmp/cookies.txt"}, h.dl.cookies)
}

func TestRun_CookieRejectionInvalidatesResolver(t *testing.T) {
	h := newHarness(t)
	res := &fakeResolver{path: "c.txt"}
	h.deps.Resolver = res
	h.dl.err = errors.New("ERROR: [Douyin] 7301: Fresh cookies (not necessarily logged in) are needed")

	final := h.run(t, false)

	assert.Equal(t, model.TaskStatusFailed, final.Status)
	assert.Equal(t, int32(1), res.invalidated.Load())

	h2 := newHarness(t)
	res2 := &fakeResolver{}
	h2.deps.Resolver = res2
	h2.dl.err = errors.New("HTTP Error 404: Not Found")
	h2.run(t, false)
	assert.Zero(t, res2.invalidated.Load())
}

func TestRun_UploadSkipsDownload(t *testing.T) {
	h := newHarness(t)
	upload := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(upload, []byte("mp4"), 0o644))

	task := h.store.CreateTask("file:///clip.mp4", false)
	final := NewRunner(h.deps).Run(context.Background(), task.ID, Source{
		URL:       task.URL,
		LocalFile: upload,
		Info:      &model.VideoInfo{Title: "我的上传", Author: "upload", URL: task.URL},
	})

	assert.Equal(t, model.TaskStatusCompleted, final.Status)
	assert.Equal(t, "我的上传", final.VideoInfo.Title)
	assert.Equal(t, "upload", final.VideoInfo.Author)
	assert.Empty(t, h.dl.cookies)
	assert.Equal(t, []string{upload}, h.ex.inputs)
	assert.NotContains(t, statuses(h.store.history(final.ID)), model.TaskStatusDownloading)

	_, err := os.Stat(upload)
	assert.True(t, os.IsNotExist(err), "upload should be removed")
}

func TestNewStageError_CapturesCommand(t *testing.T) {
	ce := &media.CommandError{
		Log: media.CommandLog{Command: "yt-dlp", ExitCode: 2},
		Err: errors.New("yt-dlp exited with code 2"),
	}
	se := newStageError(model.TaskStatusDownloading, ce)

	assert.Equal(t, ce.Error(), se.Error())
	require.NotNil(t, se.Command)
	assert.Equal(t, "yt-dlp", se.Command.Command)
	assert.ErrorIs(t, se, ce)

	plain := newStageError(model.TaskStatusTranscribing, errors.New("x"))
	assert.Nil(t, plain.Command)
}
