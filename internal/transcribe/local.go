package transcribe

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/clipscript/internal/media"
	"github.com/sells-group/clipscript/internal/model"
)

// LocalConfig configures the whisper-ctranslate2 backend.
type LocalConfig struct {
	Binary      string
	ModelSize   string
	Device      string
	ComputeType string
	Language    string
	// Workers bounds concurrent inference processes.
	Workers int
	Timeout time.Duration
}

// Local runs faster-whisper through its CLI. Inference is CPU/GPU heavy, so
// processes are admitted through a fixed-size worker pool independent of
// the batch concurrency cap.
type Local struct {
	cfg    LocalConfig
	runner media.Runner
	pool   *semaphore.Weighted
}

// NewLocal creates a local transcriber. A nil runner uses media.ExecRunner.
func NewLocal(cfg LocalConfig, runner media.Runner) *Local {
	if cfg.Binary == "" {
		cfg.Binary = "whisper-ctranslate2"
	}
	if cfg.ModelSize == "" {
		cfg.ModelSize = "small"
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if runner == nil {
		runner = media.ExecRunner{}
	}
	return &Local{cfg: cfg, runner: runner, pool: semaphore.NewWeighted(int64(cfg.Workers))}
}

// ComputeType resolves the precision for device. float16 has no CPU kernel
// and falls back to int8; on auto the runtime picks.
func ComputeType(device, requested string) string {
	if requested == "" {
		requested = "float16"
	}
	if requested != "float16" {
		return requested
	}
	switch device {
	case "cpu":
		return "int8"
	case "auto":
		return "auto"
	default:
		return requested
	}
}

// Args builds the CLI argument list.
func (l *Local) Args(audioPath, outDir string) []string {
	args := []string{
		"--model", l.cfg.ModelSize,
		"--device", l.cfg.Device,
		"--compute_type", ComputeType(l.cfg.Device, l.cfg.ComputeType),
		"--beam_size", "5",
		"--vad_filter", "True",
		"--output_format", "json",
		"--output_dir", outDir,
	}
	if lang := l.cfg.Language; lang != "" && lang != "auto" {
		args = append(args, "--language", lang)
	}
	return append(args, audioPath)
}

type localOutput struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Segments []rawSegment `json:"segments"`
}

// Transcribe implements Transcriber.
func (l *Local) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	if err := l.pool.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "transcribe: wait for worker")
	}
	defer l.pool.Release(1)

	outDir, err := os.MkdirTemp(filepath.Dir(audioPath), "whisper-")
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: create output dir")
	}
	defer os.RemoveAll(outDir) //nolint:errcheck

	start := time.Now()
	if _, err := media.Exec(ctx, l.runner, l.cfg.Timeout, l.cfg.Binary, l.Args(audioPath, outDir)...); err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, eris.Wrapf(err, "transcribe: read %s output", l.cfg.Binary)
	}

	var out localOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "transcribe: parse output")
	}

	lang := out.Language
	if lang == "" {
		lang = l.cfg.Language
	}
	tr := build(out.Segments, "", lang, true)

	zap.L().Info("transcribe: local inference finished",
		zap.String("model", l.cfg.ModelSize),
		zap.Int("segments", len(tr.Segments)),
		zap.Float64("confidence", tr.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return tr, nil
}
