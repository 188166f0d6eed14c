package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Download   DownloadConfig   `yaml:"download" mapstructure:"download"`
	Audio      AudioConfig      `yaml:"audio" mapstructure:"audio"`
	Transcribe TranscribeConfig `yaml:"transcribe" mapstructure:"transcribe"`
	Enhance    EnhanceConfig    `yaml:"enhance" mapstructure:"enhance"`
	Cookies    CookiesConfig    `yaml:"cookies" mapstructure:"cookies"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Tasks      TasksConfig      `yaml:"tasks" mapstructure:"tasks"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	MinIO      MinIOConfig      `yaml:"minio" mapstructure:"minio"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	// MaxUploadMB caps multipart media uploads.
	MaxUploadMB int `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	// Format is json, console, or auto (console on a terminal).
	Format string `yaml:"format" mapstructure:"format"`
}

// PathsConfig locates working and output directories.
type PathsConfig struct {
	TempDir   string `yaml:"temp_dir" mapstructure:"temp_dir"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// DownloadConfig configures the yt-dlp media fetcher.
type DownloadConfig struct {
	YtDlpPath   string  `yaml:"ytdlp_path" mapstructure:"ytdlp_path"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	Referer     string  `yaml:"referer" mapstructure:"referer"`
}

// AudioConfig configures ffmpeg audio extraction.
type AudioConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SampleRate  int    `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// TranscribeConfig selects and tunes the speech-to-text engine.
type TranscribeConfig struct {
	// Mode is local (faster-whisper CLI) or api (OpenAI-compatible endpoint).
	Mode        string  `yaml:"mode" mapstructure:"mode"`
	Binary      string  `yaml:"binary" mapstructure:"binary"`
	ModelSize   string  `yaml:"model_size" mapstructure:"model_size"`
	Device      string  `yaml:"device" mapstructure:"device"`
	ComputeType string  `yaml:"compute_type" mapstructure:"compute_type"`
	Language    string  `yaml:"language" mapstructure:"language"`
	Workers     int     `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	APIBase     string  `yaml:"api_base" mapstructure:"api_base"`
	APIModel    string  `yaml:"api_model" mapstructure:"api_model"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// EnhanceConfig configures LLM transcript polishing.
type EnhanceConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Provider is openai (any compatible chat endpoint) or anthropic.
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	APIBase          string  `yaml:"api_base" mapstructure:"api_base"`
	Model            string  `yaml:"model" mapstructure:"model"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

// CookiesConfig configures credential resolution for downloads.
type CookiesConfig struct {
	// File is an explicit Netscape cookies.txt used exclusively when present.
	File string `yaml:"file" mapstructure:"file"`
	// Browser is the primary browser to read cookies from.
	Browser     string   `yaml:"browser" mapstructure:"browser"`
	Fallback    []string `yaml:"fallback" mapstructure:"fallback"`
	Domains     []string `yaml:"domains" mapstructure:"domains"`
	TTLSecs     int      `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	WeightsFile string   `yaml:"weights_file" mapstructure:"weights_file"`
	// Artifact is where the selected cookie set is written.
	Artifact string `yaml:"artifact" mapstructure:"artifact"`
	// Imported is where `cookies import` and the upload API store cookies.
	Imported string `yaml:"imported" mapstructure:"imported"`
}

// BatchConfig configures batch submission.
type BatchConfig struct {
	MaxSize        int `yaml:"max_size" mapstructure:"max_size"`
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// TasksConfig configures in-memory task retention.
type TasksConfig struct {
	// RetentionMins evicts terminal tasks older than this. 0 keeps them forever.
	RetentionMins    int `yaml:"retention_mins" mapstructure:"retention_mins"`
	ReapIntervalSecs int `yaml:"reap_interval_secs" mapstructure:"reap_interval_secs"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	// Driver is none, sqlite, or postgres.
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MinIOConfig configures the optional object-storage mirror of artifacts.
// MonitoringConfig controls the background failure-rate checker in serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinished          int     `yaml:"min_finished" mapstructure:"min_finished"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackMins         int     `yaml:"lookback_mins" mapstructure:"lookback_mins"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	BasePath  string `yaml:"base_path" mapstructure:"base_path"`
}

// Enabled reports whether a MinIO endpoint is configured.
func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" && m.Bucket != "" }

// Duration converts a seconds field to a time.Duration.
func Duration(secs int) time.Duration { return time.Duration(secs) * time.Second }

// ArtifactPath is the resolver side artifact, defaulting under the temp dir.
func (c *Config) ArtifactPath() string {
	if c.Cookies.Artifact != "" {
		return c.Cookies.Artifact
	}
	return filepath.Join(c.Paths.TempDir, "cookies.txt")
}

// EnhancementConfigured reports whether the enhancement service can be called.
func (c *Config) EnhancementConfigured() bool {
	return c.Enhance.Enabled && c.Enhance.APIKey != ""
}

// ImportPath is the durable import file, defaulting under the temp dir.
func (c *Config) ImportPath() string {
	if c.Cookies.Imported != "" {
		return c.Cookies.Imported
	}
	return filepath.Join(c.Paths.TempDir, "cookies.import.txt")
}

// CookiesConfigured reports whether any credential source is configured or
// an imported cookie file is already present.
func (c *Config) CookiesConfigured() bool {
	if c.Cookies.File != "" || c.Cookies.Browser != "" {
		return true
	}
	_, err := os.Stat(c.ImportPath())
	return err == nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLIPSCRIPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("paths.temp_dir", "temp")
	v.SetDefault("paths.output_dir", "output")
	v.SetDefault("download.ytdlp_path", "yt-dlp")
	v.SetDefault("download.timeout_secs", 300)
	v.SetDefault("download.rate_per_sec", 1.0)
	v.SetDefault("download.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("download.referer", "https://www.douyin.com/")
	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.timeout_secs", 300)
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("transcribe.mode", "local")
	v.SetDefault("transcribe.binary", "whisper-ctranslate2")
	v.SetDefault("transcribe.model_size", "small")
	v.SetDefault("transcribe.device", "auto")
	v.SetDefault("transcribe.compute_type", "float16")
	v.SetDefault("transcribe.language", "zh")
	v.SetDefault("transcribe.workers", 1)
	v.SetDefault("transcribe.timeout_secs", 1800)
	v.SetDefault("transcribe.api_base", "https://api.openai.com/v1")
	v.SetDefault("transcribe.api_model", "whisper-1")
	v.SetDefault("transcribe.rate_per_sec", 2.0)
	v.SetDefault("enhance.enabled", true)
	v.SetDefault("enhance.provider", "openai")
	v.SetDefault("enhance.api_base", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("enhance.model", "doubao-seed-1-6-flash-250828")
	v.SetDefault("enhance.temperature", 0.3)
	v.SetDefault("enhance.max_tokens", 4096)
	v.SetDefault("enhance.timeout_secs", 120)
	v.SetDefault("enhance.failure_threshold", 5)
	v.SetDefault("cookies.browser", "chrome")
	v.SetDefault("cookies.fallback", []string{"edge", "chrome", "firefox", "chromium", "brave", "opera", "vivaldi"})
	v.SetDefault("cookies.domains", []string{"douyin.com", "iesdouyin.com"})
	v.SetDefault("cookies.ttl_secs", 60)
	v.SetDefault("batch.max_size", 50)
	v.SetDefault("batch.max_concurrency", 3)
	v.SetDefault("tasks.retention_mins", 0)
	v.SetDefault("tasks.reap_interval_secs", 60)
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "clipscript.db")
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_mins", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command depends on. Unknown commands are
// rejected so a typo in the wiring fails loudly.
func (c *Config) Validate(command string) error {
	var errs []string

	checkShared := func() {
		if c.Batch.MaxConcurrency < 1 || c.Batch.MaxConcurrency > 50 {
			errs = append(errs, "batch.max_concurrency must be between 1 and 50")
		}
		if c.Batch.MaxSize < 1 {
			errs = append(errs, "batch.max_size must be > 0")
		}
		switch c.Transcribe.Mode {
		case "local":
			if c.Transcribe.Workers < 1 {
				errs = append(errs, "transcribe.workers must be > 0")
			}
		case "api":
			if c.Transcribe.APIKey == "" {
				errs = append(errs, "transcribe.api_key is required when transcribe.mode is api")
			}
		default:
			errs = append(errs, "transcribe.mode must be local or api")
		}
		switch c.Enhance.Provider {
		case "openai", "anthropic":
		default:
			errs = append(errs, "enhance.provider must be openai or anthropic")
		}
		if c.Enhance.Temperature < 0 || c.Enhance.Temperature > 2 {
			errs = append(errs, "enhance.temperature must be between 0 and 2")
		}
		if c.Paths.TempDir == "" || c.Paths.OutputDir == "" {
			errs = append(errs, "paths.temp_dir and paths.output_dir are required")
		}
	}

	checkStore := func(required bool) {
		switch c.Store.Driver {
		case "none", "":
			if required {
				errs = append(errs, "store.driver must be sqlite or postgres")
			}
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		default:
			errs = append(errs, "store.driver must be none, sqlite, or postgres")
		}
	}

	switch command {
	case "serve":
		checkShared()
		checkStore(false)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	case "extract", "batch":
		checkShared()
		checkStore(false)
	case "runs":
		checkStore(true)
	case "cookies":
		if c.Paths.TempDir == "" && c.Cookies.Artifact == "" {
			errs = append(errs, "paths.temp_dir or cookies.artifact is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", command)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if consoleFormat(cfg.Format) {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func consoleFormat(format string) bool {
	switch format {
	case "console":
		return true
	case "auto":
		fd := os.Stderr.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return false
}
