package model

import "time"

// Run is the durable history record of one finished task.
type Run struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	Language    string     `json:"language,omitempty"`
	Confidence  float64    `json:"confidence"`
	Enhanced    bool       `json:"enhanced"`
	FinalText   string     `json:"final_text,omitempty"`
	JSONPath    string     `json:"json_path,omitempty"`
	TextPath    string     `json:"text_path,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// RunFromTask flattens a terminal task into a history record. ID is left
// for the store to assign.
func RunFromTask(t *Task, jsonPath, textPath string) Run {
	r := Run{
		TaskID:    t.ID,
		URL:       t.URL,
		Title:     t.Title(),
		Status:    t.Status,
		Error:     t.Error,
		JSONPath:  jsonPath,
		TextPath:  textPath,
		CreatedAt: t.CreatedAt,
	}
	if t.CompletedAt != nil {
		r.CompletedAt = *t.CompletedAt
	}
	if t.VideoInfo != nil {
		r.Author = t.VideoInfo.Author
	}
	if t.Transcript != nil {
		r.Language = t.Transcript.Language
		r.Confidence = t.Transcript.Confidence
		r.FinalText = t.Transcript.FinalText()
		r.Enhanced = t.Transcript.EnhancedText != "" && t.Transcript.EnhancedText != t.Transcript.RawText
	}
	return r
}
