package transcribe

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/clipscript/internal/model"
	"github.com/sells-group/clipscript/internal/resilience"
	"github.com/sells-group/clipscript/pkg/openai"
)

// APIConfig configures the remote backend.
type APIConfig struct {
	Model    string
	Language string
	// RatePerSec limits outbound requests. 0 disables.
	RatePerSec float64
	Retry      resilience.RetryConfig
}

// API posts audio to an OpenAI-compatible /audio/transcriptions endpoint.
type API struct {
	client  openai.Client
	cfg     APIConfig
	limiter *rate.Limiter
}

// NewAPI creates a remote transcriber.
func NewAPI(client openai.Client, cfg APIConfig) *API {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("transcribe", "audio/transcriptions")
	}
	a := &API{client: client, cfg: cfg}
	if cfg.RatePerSec > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return a
}

// Transcribe implements Transcriber.
func (a *API) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	lang := a.cfg.Language
	if lang == "auto" {
		lang = ""
	}
	req := openai.TranscriptionRequest{FilePath: audioPath, Model: a.cfg.Model, Language: lang}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, a.cfg.Retry, func(ctx context.Context) (*openai.TranscriptionResponse, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return a.client.Transcribe(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: remote request")
	}

	segs := make([]rawSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, rawSegment(s))
	}
	if lang == "" {
		lang = resp.Language
	}
	tr := build(segs, resp.Text, lang, len(segs) > 0)

	zap.L().Info("transcribe: remote transcription finished",
		zap.String("model", a.cfg.Model),
		zap.Int("segments", len(tr.Segments)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return tr, nil
}
