// Package transcribe converts extracted audio into time-stamped transcripts,
// either with a local faster-whisper CLI or a remote OpenAI-compatible API.
package transcribe

import (
	"context"
	"math"
	"strings"

	"github.com/sells-group/clipscript/internal/model"
)

// Transcriber turns a WAV file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)
}

// rawSegment is the engine-neutral shape both backends decode into.
type rawSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// roundMS rounds seconds to millisecond precision.
func roundMS(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// build assembles a transcript. When text is empty the trimmed segment texts
// are concatenated instead.
func build(segs []rawSegment, text, language string, withConfidence bool) *model.Transcript {
	out := &model.Transcript{
		Segments: make([]model.Segment, 0, len(segs)),
		Language: language,
	}

	var joined strings.Builder
	var probSum float64
	for _, s := range segs {
		t := strings.TrimSpace(s.Text)
		out.Segments = append(out.Segments, model.Segment{
			Start: roundMS(s.Start),
			End:   roundMS(s.End),
			Text:  t,
		})
		joined.WriteString(t)
		probSum += math.Exp(s.AvgLogprob)
	}

	out.RawText = strings.TrimSpace(text)
	if out.RawText == "" {
		out.RawText = joined.String()
	}
	if withConfidence && len(segs) > 0 {
		out.Confidence = math.Round(probSum/float64(len(segs))*10000) / 10000
	}
	return out
}
