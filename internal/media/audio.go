package media

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultSampleRate is what speech-to-text models expect.
const DefaultSampleRate = 16000

// FFmpeg converts media containers to mono PCM WAV.
type FFmpeg struct {
	Binary     string
	Timeout    time.Duration
	SampleRate int
	runner     Runner
}

// NewFFmpeg creates an extractor. A nil runner uses ExecRunner.
func NewFFmpeg(binary string, timeout time.Duration, sampleRate int, runner Runner) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &FFmpeg{Binary: binary, Timeout: timeout, SampleRate: sampleRate, runner: runner}
}

// ExtractArgs builds the ffmpeg argument list.
func (f *FFmpeg) ExtractArgs(input, output string) []string {
	return []string{
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", "1",
		"-y",
		output,
	}
}

// Extract writes a WAV next to input (or into outDir when set) and returns
// its path.
func (f *FFmpeg) Extract(ctx context.Context, input, outDir string) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", eris.Wrapf(err, "media: input %s", input)
	}
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	output := filepath.Join(outDir, base+".wav")
	if output == input {
		output = filepath.Join(outDir, base+".16k.wav")
	}

	if _, err := Exec(ctx, f.runner, f.Timeout, f.Binary, f.ExtractArgs(input, output)...); err != nil {
		return "", err
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		return "", eris.Errorf("media: ffmpeg produced no audio at %s", output)
	}
	return output, nil
}
