// Package pipeline drives a task through download, audio extraction,
// transcription and enhancement, and fans batches out under a concurrency cap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/persist"
	"github.com/sells-group/clipscript/internal/resolver"
)

// Downloader fetches a media file and its metadata into workDir.
type Downloader interface {
	Download(ctx context.Context, url, cookiesFile, workDir string) (string, model.VideoInfo, error)
}

// AudioExtractor converts a media container into speech-ready audio.
type AudioExtractor interface {
	Extract(ctx context.Context, input, outDir string) (string, error)
}

// Transcriber turns an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)
}

// Enhancer polishes raw transcript text. Implementations return the input
// unchanged alongside any error.
type Enhancer interface {
	Enhance(ctx context.Context, raw string) (string, error)
}

// Persister writes terminal tasks to their sinks.
type Persister interface {
	Finish(ctx context.Context, t *model.Task) (persist.Artifacts, error)
}

// CredentialResolver picks the cookie set used for downloads.
type CredentialResolver interface {
	Resolve(ctx context.Context) (*resolver.Resolution, error)
	Invalidate()
}

// TaskUpdater is the slice of the task store the runner writes through.
type TaskUpdater interface {
	Update(id string, fn func(t *model.Task)) (*model.Task, error)
}

// Deps wires the stage collaborators. Resolver and Enhancer are optional:
// without a resolver downloads run anonymously, without an enhancer the raw
// transcript is final.
type Deps struct {
	Store       TaskUpdater
	Downloader  Downloader
	Extractor   AudioExtractor
	Transcriber Transcriber
	Enhancer    Enhancer
	Resolver    CredentialResolver
	Persister   Persister
	// TempDir holds one work directory per task.
	TempDir string
}

// Source is what a task runs against. LocalFile skips the download stage and
// is removed once the task is terminal.
type Source struct {
	URL       string
	LocalFile string
	Info      *model.VideoInfo
}

// Runner executes the stage sequence for one task at a time. It is safe for
// concurrent use across distinct tasks.
type Runner struct {
	deps    Deps
	nowFunc func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	return &Runner{deps: deps, nowFunc: time.Now}
}

// EnhancementEnabled reports whether an enhancer is wired.
func (r *Runner) EnhancementEnabled() bool { return r.deps.Enhancer != nil }

// Run drives task id to a terminal state and returns its final snapshot.
// Stage failures and panics are recorded on the task, never returned.
func (r *Runner) Run(ctx context.Context, id string, src Source) (final *model.Task) {
	log := zap.L().With(zap.String("task_id", id))
	workDir := filepath.Join(r.deps.TempDir, id)

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline: stage panicked", zap.Any("panic", p))
			final = r.fail(id, eris.Errorf("internal error: %v", p))
		}
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("pipeline: remove work dir", zap.Error(err))
		}
		if src.LocalFile != "" {
			if err := os.Remove(src.LocalFile); err != nil && !os.IsNotExist(err) {
				log.Warn("pipeline: remove uploaded file", zap.Error(err))
			}
		}
		if final == nil || r.deps.Persister == nil {
			return
		}
		// Persistence failures are logged inside Finish and never change the
		// task's terminal state.
		_, _ = r.deps.Persister.Finish(context.WithoutCancel(ctx), final)
	}()

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return r.fail(id, eris.Wrap(err, "pipeline: create work dir"))
	}

	media, err := r.acquire(ctx, id, src, workDir)
	if err != nil {
		return r.fail(id, err)
	}

	r.advance(id, model.TaskStatusExtractingAudio, model.ProgressExtractStart)
	audio, err := r.deps.Extractor.Extract(ctx, media, workDir)
	if err != nil {
		return r.fail(id, newStageError(model.TaskStatusExtractingAudio, err))
	}
	r.advance(id, model.TaskStatusExtractingAudio, model.ProgressExtractDone)

	r.advance(id, model.TaskStatusTranscribing, model.ProgressTranscribeStart)
	tr, err := r.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		return r.fail(id, newStageError(model.TaskStatusTranscribing, err))
	}
	raw := *tr
	cur := r.update(id, func(t *model.Task) {
		t.Transcript = &raw
		t.Progress = model.ProgressTranscribeDone
	})
	log.Info("pipeline: transcribed",
		zap.String("language", tr.Language),
		zap.Int("segments", len(tr.Segments)),
	)

	if r.deps.Enhancer != nil && cur != nil && cur.UseLLM {
		r.advance(id, model.TaskStatusEnhancing, model.ProgressEnhanceStart)
		enhanced, err := r.deps.Enhancer.Enhance(ctx, tr.RawText)
		if err != nil {
			log.Warn("pipeline: enhancement failed, keeping raw text", zap.Error(err))
			enhanced = tr.RawText
		}
		if strings.TrimSpace(enhanced) == "" {
			enhanced = tr.RawText
		}
		tr.EnhancedText = enhanced
	} else {
		tr.EnhancedText = tr.RawText
	}

	out := *tr
	done := r.nowFunc()
	final = r.update(id, func(t *model.Task) {
		t.Transcript = &out
		t.Status = model.TaskStatusCompleted
		t.Progress = model.ProgressComplete
		t.CompletedAt = &done
	})
	log.Info("pipeline: completed", zap.Duration("elapsed", done.Sub(createdAt(final, done))))
	return final
}

// acquire produces the local media file, downloading it unless the source is
// an upload.
func (r *Runner) acquire(ctx context.Context, id string, src Source, workDir string) (string, error) {
	if src.LocalFile != "" {
		info := model.VideoInfo{Title: filepath.Base(src.LocalFile), Author: "upload", URL: src.URL}
		if src.Info != nil {
			info = *src.Info
		}
		r.update(id, func(t *model.Task) { t.VideoInfo = &info })
		return src.LocalFile, nil
	}

	r.advance(id, model.TaskStatusDownloading, model.ProgressDownloadStart)

	var cookiesFile string
	if r.deps.Resolver != nil {
		res, err := r.deps.Resolver.Resolve(ctx)
		if err != nil {
			return "", newStageError(model.TaskStatusDownloading, err)
		}
		cookiesFile = res.Path
		zap.L().Debug("pipeline: using cookies",
			zap.String("task_id", id),
			zap.String("source", res.Strategy.String()),
			zap.Int("score", res.Score),
			zap.Bool("cached", res.Cached),
		)
	}

	path, info, err := r.deps.Downloader.Download(ctx, src.URL, cookiesFile, workDir)
	if err != nil {
		if r.deps.Resolver != nil && cookieRejected(err) {
			// Force a fresh extraction for the next task.
			r.deps.Resolver.Invalidate()
		}
		return "", newStageError(model.TaskStatusDownloading, err)
	}

	r.update(id, func(t *model.Task) {
		t.VideoInfo = &info
		t.Progress = model.ProgressDownloadDone
	})
	return path, nil
}

var cookieHints = []string{"cookie", "login", "sign in", "fresh cookies"}

func cookieRejected(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, h := range cookieHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

func (r *Runner) advance(id string, status model.TaskStatus, progress float64) {
	r.update(id, func(t *model.Task) {
		t.Status = status
		t.Progress = progress
	})
}

func (r *Runner) update(id string, fn func(t *model.Task)) *model.Task {
	t, err := r.deps.Store.Update(id, fn)
	if err != nil {
		zap.L().Warn("pipeline: update task", zap.String("task_id", id), zap.Error(err))
	}
	return t
}

func (r *Runner) fail(id string, err error) *model.Task {
	done := r.nowFunc()
	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%T", err)
	}

	fields := []zap.Field{zap.String("task_id", id), zap.Error(err)}
	var se *StageError
	if errors.As(err, &se) {
		fields = append(fields, zap.String("stage", string(se.Stage)))
		if se.Command != nil {
			fields = append(fields, zap.Any("command", se.Command))
		}
	}
	zap.L().Error("pipeline: task failed", fields...)

	return r.update(id, func(t *model.Task) {
		t.Status = model.TaskStatusFailed
		t.Error = msg
		t.CompletedAt = &done
	})
}

func createdAt(t *model.Task, fallback time.Time) time.Time {
	if t == nil {
		return fallback
	}
	return t.CreatedAt
}
