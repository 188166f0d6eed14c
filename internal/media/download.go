package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/clipscript/internal/model"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/video/(\d+)`),
	regexp.MustCompile(`modal_id=(\d+)`),
}

// VideoID extracts the numeric video id from a share or page URL.
func VideoID(rawURL string) string {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// FallbackInfo is the metadata used when the downloader reports none.
func FallbackInfo(rawURL string) model.VideoInfo {
	id := VideoID(rawURL)
	info := model.VideoInfo{VideoID: "unknown", Title: "未知视频", Author: "未知作者", URL: rawURL}
	if id != "" {
		info.VideoID = id
		info.Title = "抖音视频 " + id
	}
	return info
}

// DownloaderConfig configures YtDlp.
type DownloaderConfig struct {
	Binary    string
	Timeout   time.Duration
	UserAgent string
	Referer   string
	// RatePerSec limits process launches per target host. 0 disables.
	RatePerSec float64
}

// YtDlp downloads videos with the yt-dlp CLI.
type YtDlp struct {
	cfg    DownloaderConfig
	runner Runner

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewYtDlp creates a downloader. A nil runner uses ExecRunner.
func NewYtDlp(cfg DownloaderConfig, runner Runner) *YtDlp {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &YtDlp{cfg: cfg, runner: runner, limiters: make(map[string]*rate.Limiter)}
}

// ytdlpInfo is the subset of yt-dlp's --dump-json output we use.
type ytdlpInfo struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Uploader          string  `json:"uploader"`
	Creator           string  `json:"creator"`
	Duration          float64 `json:"duration"`
	WebpageURL        string  `json:"webpage_url"`
	Thumbnail         string  `json:"thumbnail"`
	Filename          string  `json:"filename"`
	LegacyFilename    string  `json:"_filename"`
	RequestedDownload []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

// Download fetches rawURL into workDir. cookiesFile may be empty for an
// anonymous download.
func (y *YtDlp) Download(ctx context.Context, rawURL, cookiesFile, workDir string) (string, model.VideoInfo, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", model.VideoInfo{}, eris.Wrapf(err, "media: create work dir %s", workDir)
	}
	if err := y.wait(ctx, rawURL); err != nil {
		return "", model.VideoInfo{}, err
	}

	args := y.args(rawURL, cookiesFile, workDir)
	res, err := Exec(ctx, y.runner, y.cfg.Timeout, y.cfg.Binary, args...)
	if err != nil {
		return "", model.VideoInfo{}, err
	}

	info, path := parseYtDlpOutput(res.Stdout)
	if path == "" {
		path = findDownloaded(workDir, info.VideoID)
	}
	if path == "" {
		return "", model.VideoInfo{}, eris.Errorf("media: yt-dlp reported success but no file was written for %s", rawURL)
	}

	fallback := FallbackInfo(rawURL)
	if info.VideoID == "" {
		info.VideoID = fallback.VideoID
	}
	if info.Title == "" {
		info.Title = fallback.Title
	}
	if info.Author == "" {
		info.Author = fallback.Author
	}
	if info.URL == "" {
		info.URL = rawURL
	}

	zap.L().Debug("media: downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.String("video_id", info.VideoID),
	)
	return path, info, nil
}

func (y *YtDlp) args(rawURL, cookiesFile, workDir string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--no-check-certificates",
		"--retries", "3",
		"--socket-timeout", "30",
		"-f", "best[ext=mp4]/best",
		"-o", filepath.Join(workDir, "%(id)s.%(ext)s"),
		"--dump-json",
		"--no-simulate",
	}
	if y.cfg.UserAgent != "" {
		args = append(args, "--user-agent", y.cfg.UserAgent)
	}
	if y.cfg.Referer != "" {
		args = append(args, "--add-header", "Referer:"+y.cfg.Referer)
	}
	if cookiesFile != "" {
		args = append(args, "--cookies", cookiesFile)
	}
	return append(args, rawURL)
}

func (y *YtDlp) wait(ctx context.Context, rawURL string) error {
	if y.cfg.RatePerSec <= 0 {
		return nil
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	y.mu.Lock()
	lim, ok := y.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(y.cfg.RatePerSec), 1)
		y.limiters[host] = lim
	}
	y.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return eris.Wrapf(err, "media: rate limit wait for %s", host)
	}
	return nil
}

// parseYtDlpOutput reads the last JSON object yt-dlp printed.
func parseYtDlpOutput(stdout string) (model.VideoInfo, string) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var raw ytdlpInfo
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		author := raw.Uploader
		if author == "" {
			author = raw.Creator
		}
		info := model.VideoInfo{
			VideoID:  raw.ID,
			Title:    strings.TrimSpace(raw.Title),
			Author:   author,
			Duration: raw.Duration,
			URL:      raw.WebpageURL,
			CoverURL: raw.Thumbnail,
		}
		path := raw.Filename
		if len(raw.RequestedDownload) > 0 && raw.RequestedDownload[0].Filepath != "" {
			path = raw.RequestedDownload[0].Filepath
		}
		if path == "" {
			path = raw.LegacyFilename
		}
		if path != "" {
			if _, err := os.Stat(path); err != nil {
				path = ""
			}
		}
		return info, path
	}
	return model.VideoInfo{}, ""
}

func findDownloaded(dir, id string) string {
	pattern := "*"
	if id != "" {
		pattern = fmt.Sprintf("%s.*", id)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".json") {
			continue
		}
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			return m
		}
	}
	return ""
}
