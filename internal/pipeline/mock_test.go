package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/persist"
	"github.com/sells-group/clipscript/internal/resolver"
	"github.com/sells-group/clipscript/internal/taskstore"
)

// recordingStore captures every committed snapshot for ordering assertions.
type recordingStore struct {
	*taskstore.Store
	mu    sync.Mutex
	snaps map[string][]model.Task
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: taskstore.New(), snaps: map[string][]model.Task{}}
}

func (s *recordingStore) Update(id string, fn func(t *model.Task)) (*model.Task, error) {
	t, err := s.Store.Update(id, fn)
	if err == nil {
		s.mu.Lock()
		s.snaps[id] = append(s.snaps[id], *t)
		s.mu.Unlock()
	}
	return t, err
}

func (s *recordingStore) history(id string) []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Task(nil), s.snaps[id]...)
}

type fakeDownloader struct {
	mu      sync.Mutex
	cookies []string
	err     error
}

func (f *fakeDownloader) Download(_ context.Context, url, cookiesFile, workDir string) (string, model.VideoInfo, error) {
	f.mu.Lock()
	f.cookies = append(f.cookies, cookiesFile)
	f.mu.Unlock()
	if f.err != nil {
		return "", model.VideoInfo{}, f.err
	}
	path := filepath.Join(workDir, "video.mp4")
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		return "", model.VideoInfo{}, err
	}
	return path, model.VideoInfo{VideoID: "7301", Title: "测试视频", Author: "作者", URL: url}, nil
}

type fakeExtractor struct {
	err    error
	inputs []string
	mu     sync.Mutex
}

func (f *fakeExtractor) Extract(_ context.Context, input, outDir string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	out := filepath.Join(outDir, "audio.wav")
	return out, os.WriteFile(out, []byte("wav"), 0o644)
}

// fakeTranscriber tracks how many calls overlap.
type fakeTranscriber struct {
	delay   time.Duration
	err     error
	panics  bool
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ string) (*model.Transcript, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.panics {
		panic("model crashed")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.Transcript{
		RawText:  "原始文本",
		Segments: []model.Segment{{Start: 0, End: 1.5, Text: "原始文本"}},
		Language: "zh",
	}, nil
}

type mockEnhancer struct {
	mock.Mock
}

func (m *mockEnhancer) Enhance(ctx context.Context, raw string) (string, error) {
	args := m.Called(ctx, raw)
	return args.String(0), args.Error(1)
}

type fakeResolver struct {
	path        string
	err         error
	invalidated atomic.Int32
}

func (f *fakeResolver) Resolve(context.Context) (*resolver.Resolution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &resolver.Resolution{Strategy: resolver.Named("chrome"), Score: 123, Path: f.path}, nil
}

func (f *fakeResolver) Invalidate() { f.invalidated.Add(1) }

type fakePersister struct {
	mu       sync.Mutex
	finished []*model.Task
	err      error
}

func (f *fakePersister) Finish(_ context.Context, t *model.Task) (persist.Artifacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, t)
	return persist.Artifacts{}, f.err
}
