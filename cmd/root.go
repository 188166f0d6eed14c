package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/config"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "clipscript",
	Short: "Turn Douyin and TikTok videos into text transcripts",
	Long: `clipscript downloads short videos with yt-dlp, extracts a 16 kHz mono
audio track with ffmpeg, transcribes it with faster-whisper or an
OpenAI-compatible speech API, and can polish the transcript with an LLM.

Downloads that need a logged-in session read cookies from a configured
cookies.txt, an imported export, or the local browsers in fallback order.

Run "clipscript serve" for the HTTP API, "extract" or "batch" for one-off
jobs, "cookies" to manage download credentials and "runs" to browse history.
Settings come from ./config.yaml and CLIPSCRIPT_* environment variables.`,
	Example: `  clipscript extract https://v.douyin.com/abc123/
  clipscript extract --file ./clip.mp4 --no-llm
  clipscript batch --input urls.txt
  clipscript cookies import cookies.txt
  clipscript serve --port 8000`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
