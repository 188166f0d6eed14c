package model

import "time"

// TaskStatus represents the current stage of a transcription task.
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusDownloading     TaskStatus = "downloading"
	TaskStatusExtractingAudio TaskStatus = "extracting_audio"
	TaskStatusTranscribing    TaskStatus = "transcribing"
	TaskStatusEnhancing       TaskStatus = "enhancing"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsRunning reports whether the status is one of the blocking pipeline stages.
func (s TaskStatus) IsRunning() bool {
	switch s {
	case TaskStatusDownloading, TaskStatusExtractingAudio, TaskStatusTranscribing, TaskStatusEnhancing:
		return true
	default:
		return false
	}
}

// Progress checkpoints reported at stage boundaries.
const (
	ProgressDownloadStart   = 0.1
	ProgressDownloadDone    = 0.3
	ProgressExtractStart    = 0.4
	ProgressExtractDone     = 0.5
	ProgressTranscribeStart = 0.6
	ProgressTranscribeDone  = 0.8
	ProgressEnhanceStart    = 0.85
	ProgressComplete        = 1.0
)

// VideoInfo is the metadata record produced by the media acquisition stage.
type VideoInfo struct {
	VideoID  string  `json:"video_id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Duration float64 `json:"duration"`
	URL      string  `json:"url"`
	CoverURL string  `json:"cover_url"`
}

// Segment is one time-stamped piece of a transcript, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript holds the speech-to-text output and its enhanced form.
type Transcript struct {
	RawText      string    `json:"raw_text"`
	EnhancedText string    `json:"enhanced_text"`
	Segments     []Segment `json:"segments"`
	Language     string    `json:"language"`
	Confidence   float64   `json:"confidence"`
}

// FinalText returns the enhanced text when present, else the raw text.
func (t *Transcript) FinalText() string {
	if t == nil {
		return ""
	}
	if t.EnhancedText != "" {
		return t.EnhancedText
	}
	return t.RawText
}

// Task is one end-to-end pipeline execution for a single source reference.
type Task struct {
	ID          string      `json:"task_id"`
	URL         string      `json:"url"`
	UseLLM      bool        `json:"use_llm"`
	Status      TaskStatus  `json:"status"`
	Progress    float64     `json:"progress"`
	VideoInfo   *VideoInfo  `json:"video_info,omitempty"`
	Transcript  *Transcript `json:"transcript,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to readers outside the store lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.VideoInfo != nil {
		vi := *t.VideoInfo
		c.VideoInfo = &vi
	}
	if t.Transcript != nil {
		tr := *t.Transcript
		tr.Segments = append([]Segment(nil), t.Transcript.Segments...)
		c.Transcript = &tr
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Title returns the media title, falling back to the task ID.
func (t *Task) Title() string {
	if t.VideoInfo != nil && t.VideoInfo.Title != "" {
		return t.VideoInfo.Title
	}
	return t.ID
}
