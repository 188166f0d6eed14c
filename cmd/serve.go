package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/config"
	"github.com/sells-group/clipscript/internal/monitoring"
	"github.com/sells-group/clipscript/internal/pipeline"
	"github.com/sells-group/clipscript/internal/resolver"
	"github.com/sells-group/clipscript/internal/taskstore"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		go env.Tasks.RunReaper(ctx,
			time.Duration(cfg.Tasks.RetentionMins)*time.Minute,
			config.Duration(cfg.Tasks.ReapIntervalSecs),
		)

		var breaker monitoring.BreakerReader
		if env.Enhancer != nil {
			breaker = env.Enhancer.Breaker()
		}
		collector := monitoring.NewCollector(env.Tasks, breaker)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		api := &apiServer{
			ctrl:      env.Controller,
			resolver:  env.Resolver,
			metrics:   collector,
			lookback:  cfg.Monitoring.LookbackMins,
			uploadDir: filepath.Join(cfg.Paths.TempDir, "uploads"),
			maxUpload: int64(cfg.Server.MaxUploadMB) << 20,
			health: healthInfo{
				Status:         "ok",
				ASRMode:        cfg.Transcribe.Mode,
				LLMEnabled:     env.Runner.EnhancementEnabled(),
				LLMKeySet:      cfg.Enhance.APIKey != "",
				CookiesEnabled: cfg.CookiesConfigured(),
			},
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type healthInfo struct {
	Status         string `json:"status"`
	ASRMode        string `json:"asr_mode"`
	LLMEnabled     bool   `json:"llm_enabled"`
	LLMKeySet      bool   `json:"llm_key_configured"`
	CookiesEnabled bool   `json:"cookies_configured"`
}

// apiServer holds the handler dependencies.
type apiServer struct {
	ctrl      *pipeline.Controller
	resolver  *resolver.Resolver
	metrics   *monitoring.Collector
	lookback  int
	health    healthInfo
	uploadDir string
	maxUpload int64
}

// buildRouter mounts every API route on a chi router.
func buildRouter(s *apiServer, origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Post("/extract", s.handleExtract)
		r.Post("/extract/batch", s.handleBatch)
		r.Post("/upload", s.handleUpload)
		r.Get("/task/{id}", s.handleTask)
		r.Get("/batch/{id}", s.handleBatchStatus)

		r.Route("/cookies", func(r chi.Router) {
			r.Get("/status", s.handleCookieStatus)
			r.Post("/upload", s.handleCookieUpload)
			r.Delete("/clear", s.handleCookieClear)
			r.Get("/guide", handleCookieGuide)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health)
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Collect(s.lookback))
}

func (s *apiServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		UseLLM *bool  `json:"use_llm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.ctrl.Submit(req.URL, boolOr(req.UseLLM, true))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.L().Info("task submitted", zap.String("task_id", task.ID), zap.String("url", task.URL))
	writeJSON(w, http.StatusAccepted, task)
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs   []string `json:"urls"`
		UseLLM *bool    `json:"use_llm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch, _, err := s.ctrl.SubmitBatch(req.URLs, boolOr(req.UseLLM, true))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.ctrl.Store().GetBatchView(batch.ID)
	if err != nil {
		writeJSON(w, http.StatusAccepted, batch)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.maxUpload>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	ct := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || !strings.HasPrefix(mt, "video/") {
		writeError(w, http.StatusBadRequest, "upload must be a video file")
		return
	}
	if header.Size > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", s.maxUpload>>20))
		return
	}

	path, err := stageUpload(file, s.uploadDir, header.Filename)
	if err != nil {
		zap.L().Error("save upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	title := r.FormValue("title")
	useLLM := r.FormValue("use_llm") != "false"
	task := s.ctrl.SubmitFile(path, filepath.Base(header.Filename), title, useLLM)
	writeJSON(w, http.StatusAccepted, task)
}

// stageUpload copies src into dir under a unique prefix so concurrent
// uploads with the same name never collide. The pipeline removes the copy
// once its task is terminal.
func stageUpload(src io.Reader, dir, filename string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "upload.mp4"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "create upload dir")
	}
	path := filepath.Join(dir, taskstore.NewTaskID()+"_"+name)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "create upload file")
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", eris.Wrap(err, "write upload file")
	}
	return path, f.Close()
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.ctrl.Store().GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *apiServer) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.ctrl.Store().GetBatchView(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleCookieStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.resolver.Imports().Status())
}

func (s *apiServer) handleCookieUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CookiesText string `json:"cookies_text"`
		Format      string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Format != "" && req.Format != "netscape" {
		writeError(w, http.StatusBadRequest, "only netscape format is supported")
		return
	}

	n, err := s.resolver.Import(r.Context(), req.CookiesText)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zap.L().Info("cookies imported", zap.Int("count", n))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"count":     n,
		"file_path": s.resolver.Imports().Path,
	})
}

func (s *apiServer) handleCookieClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.resolver.ClearImport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed})
}

// cookieGuide lists the ways to supply cookies when automatic extraction fails.
var cookieGuide = map[string]any{
	"methods": []map[string]any{
		{
			"name": "browser extension",
			"steps": []string{
				"Install the \"Get cookies.txt LOCALLY\" extension",
				"Open https://www.douyin.com and log in",
				"Export cookies in Netscape format",
				"POST the text to /api/cookies/upload or run `clipscript cookies import <file>`",
			},
		},
		{
			"name": "config file",
			"steps": []string{
				"Save the exported cookies.txt on the server",
				"Set cookies.file (CLIPSCRIPT_COOKIES_FILE) to its path",
			},
		},
		{
			"name": "upload the video",
			"steps": []string{
				"Download the video manually",
				"POST it as multipart field \"file\" to /api/upload",
			},
		},
	},
	"key_fields": resolver.KeyFields,
}

func handleCookieGuide(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, cookieGuide)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
