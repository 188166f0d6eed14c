package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/config"
	"github.com/sells-group/clipscript/internal/enhance"
	"github.com/sells-group/clipscript/internal/media"
	"github.com/sells-group/clipscript/internal/persist"
	"github.com/sells-group/clipscript/internal/pipeline"
	"github.com/sells-group/clipscript/internal/resilience"
	"github.com/sells-group/clipscript/internal/resolver"
	"github.com/sells-group/clipscript/internal/store"
	"github.com/sells-group/clipscript/internal/taskstore"
	"github.com/sells-group/clipscript/internal/transcribe"
	anthropicpkg "github.com/sells-group/clipscript/pkg/anthropic"
	"github.com/sells-group/clipscript/pkg/openai"
)

// pipelineEnv holds everything the serve/extract/batch commands share.
type pipelineEnv struct {
	Store      store.Store // may be nil
	Tasks      *taskstore.Store
	Resolver   *resolver.Resolver
	Enhancer   *enhance.Service // nil when enhancement is off
	Runner     *pipeline.Runner
	Controller *pipeline.Controller
}

// Close waits for in-flight tasks, then releases the history store.
func (pe *pipelineEnv) Close() {
	if pe.Controller != nil {
		pe.Controller.Wait()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config for command and builds every stage. Work
// submitted through the controller runs under ctx. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, command string) (*pipelineEnv, error) {
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.Paths.TempDir, cfg.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "create %s", dir)
		}
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	res, err := newResolver()
	if err != nil {
		closeStore(st)
		return nil, err
	}

	tr, err := newTranscriber()
	if err != nil {
		closeStore(st)
		return nil, err
	}

	persister, err := newPersister(ctx, st)
	if err != nil {
		closeStore(st)
		return nil, err
	}

	tasks := taskstore.New()
	deps := pipeline.Deps{
		Store: tasks,
		Downloader: media.NewYtDlp(media.DownloaderConfig{
			Binary:     cfg.Download.YtDlpPath,
			Timeout:    config.Duration(cfg.Download.TimeoutSecs),
			UserAgent:  cfg.Download.UserAgent,
			Referer:    cfg.Download.Referer,
			RatePerSec: cfg.Download.RatePerSec,
		}, nil),
		Extractor:   media.NewFFmpeg(cfg.Audio.FFmpegPath, config.Duration(cfg.Audio.TimeoutSecs), cfg.Audio.SampleRate, nil),
		Transcriber: tr,
		Persister:   persister,
		TempDir:     cfg.Paths.TempDir,
	}
	enh := newEnhancer()
	if enh != nil {
		deps.Enhancer = enh
	}
	if cfg.CookiesConfigured() {
		deps.Resolver = res
	} else {
		zap.L().Info("no cookie source configured, downloads run anonymously")
	}

	runner := pipeline.NewRunner(deps)
	ctrl := pipeline.NewController(ctx, tasks, runner, pipeline.ControllerConfig{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		MaxBatchSize:   cfg.Batch.MaxSize,
	})

	zap.L().Info("pipeline ready",
		zap.String("transcribe_mode", cfg.Transcribe.Mode),
		zap.Bool("enhancement", runner.EnhancementEnabled()),
		zap.Bool("cookies", cfg.CookiesConfigured()),
		zap.Int("max_concurrency", ctrl.Config().MaxConcurrency),
	)

	return &pipelineEnv{
		Store:      st,
		Tasks:      tasks,
		Resolver:   res,
		Enhancer:   enh,
		Runner:     runner,
		Controller: ctrl,
	}, nil
}

// initStore opens the run history backend, or returns nil when disabled.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "none":
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

func closeStore(st store.Store) {
	if st != nil {
		_ = st.Close()
	}
}

func newResolver() (*resolver.Resolver, error) {
	weights := resolver.DefaultWeights()
	if cfg.Cookies.WeightsFile != "" {
		w, err := resolver.LoadWeights(cfg.Cookies.WeightsFile)
		if err != nil {
			return nil, err
		}
		weights = w
	}
	return resolver.New(resolver.Config{
		OverridePath: cfg.Cookies.File,
		Primary:      cfg.Cookies.Browser,
		Fallback:     cfg.Cookies.Fallback,
		Domains:      cfg.Cookies.Domains,
		Weights:      weights,
		TTL:          config.Duration(cfg.Cookies.TTLSecs),
		ArtifactPath: cfg.ArtifactPath(),
		ImportPath:   cfg.ImportPath(),
	}, nil), nil
}

func newTranscriber() (pipeline.Transcriber, error) {
	tc := cfg.Transcribe
	switch tc.Mode {
	case "local":
		return transcribe.NewLocal(transcribe.LocalConfig{
			Binary:      tc.Binary,
			ModelSize:   tc.ModelSize,
			Device:      tc.Device,
			ComputeType: tc.ComputeType,
			Language:    tc.Language,
			Workers:     tc.Workers,
			Timeout:     config.Duration(tc.TimeoutSecs),
		}, nil), nil
	case "api":
		client := openai.NewClient(tc.APIKey,
			openai.WithBaseURL(tc.APIBase),
			openai.WithTimeout(config.Duration(tc.TimeoutSecs)),
		)
		return transcribe.NewAPI(client, transcribe.APIConfig{
			Model:      tc.APIModel,
			Language:   tc.Language,
			RatePerSec: tc.RatePerSec,
			Retry:      resilience.DefaultRetryConfig(),
		}), nil
	default:
		return nil, eris.Errorf("unknown transcribe.mode %q", tc.Mode)
	}
}

// newEnhancer returns nil when enhancement is disabled or has no credential.
func newEnhancer() *enhance.Service {
	if !cfg.EnhancementConfigured() {
		return nil
	}
	ec := cfg.Enhance
	timeout := config.Duration(ec.TimeoutSecs)

	var completer enhance.Completer
	switch ec.Provider {
	case "anthropic":
		completer = &enhance.AnthropicCompleter{
			Client:      anthropicpkg.NewClient(ec.APIKey, anthropicpkg.Options{BaseURL: ec.APIBase, Timeout: timeout}),
			Model:       ec.Model,
			Temperature: ec.Temperature,
			MaxTokens:   ec.MaxTokens,
		}
	default:
		completer = &enhance.OpenAICompleter{
			Client:      openai.NewClient(ec.APIKey, openai.WithBaseURL(ec.APIBase), openai.WithTimeout(timeout)),
			Model:       ec.Model,
			Temperature: ec.Temperature,
			MaxTokens:   ec.MaxTokens,
		}
	}

	breaker := resilience.DefaultCircuitBreakerConfig()
	if ec.FailureThreshold > 0 {
		breaker.FailureThreshold = ec.FailureThreshold
	}
	return enhance.New(completer, enhance.Config{
		Timeout: timeout,
		Retry:   resilience.DefaultRetryConfig(),
		Breaker: breaker,
	})
}

func newPersister(ctx context.Context, st store.Store) (*persist.Persister, error) {
	var opts []persist.Option
	if st != nil {
		opts = append(opts, persist.WithHistory(st))
	}
	if cfg.MinIO.Enabled() {
		m, err := persist.NewMinIOMirror(ctx, persist.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
			BasePath:  cfg.MinIO.BasePath,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, persist.WithMirror(m))
		zap.L().Info("minio mirror enabled", zap.String("bucket", cfg.MinIO.Bucket))
	}
	return persist.New(cfg.Paths.OutputDir, opts...), nil
}
