// Package persist writes completed transcripts to disk, mirrors them to
// object storage, and records run history. Failures here are reported to
// the caller for logging but never change a task's outcome.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/model"
)

const separatorWidth = 50

// Artifacts are the files written for one task.
type Artifacts struct {
	JSON string `json:"json_path"`
	Text string `json:"text_path"`
}

// Mirror copies a local artifact to a secondary location.
type Mirror interface {
	Name() string
	Put(ctx context.Context, localPath, objectName string) error
}

// HistoryRecorder stores the outcome of a task. store.Store satisfies it.
type HistoryRecorder interface {
	RecordRun(ctx context.Context, r *model.Run) error
}

// Option configures a Persister.
type Option func(*Persister)

// WithMirror adds an artifact mirror.
func WithMirror(m Mirror) Option {
	return func(p *Persister) { p.mirrors = append(p.mirrors, m) }
}

// WithHistory records every terminal task.
func WithHistory(h HistoryRecorder) Option {
	return func(p *Persister) { p.history = h }
}

// Persister is the result sink for terminal tasks.
type Persister struct {
	outDir  string
	mirrors []Mirror
	history HistoryRecorder
}

// New creates a persister writing under outDir.
func New(outDir string, opts ...Option) *Persister {
	p := &Persister{outDir: outDir}
	for _, o := range opts {
		o(p)
	}
	return p
}

// record is the structured artifact layout. It carries every Task field,
// empty ones included, so downstream readers see a fixed shape.
type record struct {
	TaskID      string            `json:"task_id"`
	URL         string            `json:"url"`
	UseLLM      bool              `json:"use_llm"`
	Status      model.TaskStatus  `json:"status"`
	Progress    float64           `json:"progress"`
	VideoInfo   *model.VideoInfo  `json:"video_info"`
	Transcript  *model.Transcript `json:"transcript"`
	Error       string            `json:"error"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at"`
}

func recordFromTask(t *model.Task) record {
	return record{
		TaskID:      t.ID,
		URL:         t.URL,
		UseLLM:      t.UseLLM,
		Status:      t.Status,
		Progress:    t.Progress,
		VideoInfo:   t.VideoInfo,
		Transcript:  t.Transcript,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

// Finish handles a task that reached a terminal state: completed tasks are
// written and mirrored, and every task is recorded in history when
// configured. Errors are logged and returned joined.
func (p *Persister) Finish(ctx context.Context, t *model.Task) (Artifacts, error) {
	var (
		arts Artifacts
		errs []error
	)

	if t.Status == model.TaskStatusCompleted {
		var err error
		arts, err = p.Save(ctx, t)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if p.history != nil {
		run := model.RunFromTask(t, arts.JSON, arts.Text)
		if err := p.history.RecordRun(ctx, &run); err != nil {
			errs = append(errs, eris.Wrap(err, "persist: record history"))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		zap.L().Warn("persist: failed to store task result",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
	return arts, err
}

// Save writes the JSON and TXT artifacts and pushes them to every mirror.
// Local write failures abort; mirror failures are collected.
func (p *Persister) Save(ctx context.Context, t *model.Task) (Artifacts, error) {
	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return Artifacts{}, eris.Wrapf(err, "persist: create %s", p.outDir)
	}

	f, name, err := reserve(p.outDir, SafeName(t.Title()))
	if err != nil {
		return Artifacts{}, eris.Wrap(err, "persist: reserve file name")
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	encErr := enc.Encode(recordFromTask(t))
	closeErr := f.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		return Artifacts{}, eris.Wrapf(err, "persist: write %s.json", name)
	}

	arts := Artifacts{JSON: filepath.Join(p.outDir, name+".json")}
	if t.Transcript != nil {
		arts.Text = filepath.Join(p.outDir, name+".txt")
		if err := os.WriteFile(arts.Text, []byte(PlainText(t)), 0o644); err != nil {
			return arts, eris.Wrapf(err, "persist: write %s.txt", name)
		}
	}

	zap.L().Info("persist: result saved",
		zap.String("task_id", t.ID),
		zap.String("path", arts.JSON),
	)

	var errs []error
	for _, m := range p.mirrors {
		for _, path := range []string{arts.JSON, arts.Text} {
			if path == "" {
				continue
			}
			if err := m.Put(ctx, path, filepath.Base(path)); err != nil {
				errs = append(errs, eris.Wrapf(err, "persist: mirror %s to %s", filepath.Base(path), m.Name()))
			}
		}
	}
	return arts, errors.Join(errs...)
}

// PlainText renders the human-readable artifact: a title/author/link header,
// a separator, then the final text.
func PlainText(t *model.Task) string {
	author := "未知"
	if t.VideoInfo != nil && t.VideoInfo.Author != "" {
		author = t.VideoInfo.Author
	}

	var b strings.Builder
	b.WriteString("标题: " + t.Title() + "\n")
	b.WriteString("作者: " + author + "\n")
	b.WriteString("链接: " + t.URL + "\n")
	b.WriteString(strings.Repeat("=", separatorWidth) + "\n\n")
	b.WriteString(t.Transcript.FinalText())
	return b.String()
}
