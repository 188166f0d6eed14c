package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clipscript/internal/resilience"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	serviceName    = "openai"
)

// Client talks to any OpenAI-compatible endpoint.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
	Transcribe(ctx context.Context, req TranscriptionRequest) (*TranscriptionResponse, error)
}

// ChatCompletionRequest is the request body for POST /chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Message represents a single message in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the response from POST /chat/completions.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Text returns the first choice's content.
func (r *ChatCompletionResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice is a single completion choice.
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// TranscriptionRequest uploads one audio file to /audio/transcriptions.
type TranscriptionRequest struct {
	FilePath string
	Model    string
	Language string
}

// TranscriptionResponse is the verbose_json transcription body.
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Segments []TranscriptionSegment `json:"segments"`
}

// TranscriptionSegment is one timed piece of a transcription.
type TranscriptionSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates an OpenAI-compatible API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal request")
	}

	var result ChatCompletionResponse
	if err := c.do(ctx, "/chat/completions", "application/json", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) Transcribe(ctx context.Context, req TranscriptionRequest) (*TranscriptionResponse, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return nil, eris.Wrapf(err, "openai: open %s", req.FilePath)
	}
	defer f.Close() //nolint:errcheck

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(req.FilePath))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, eris.Wrap(err, "openai: copy audio")
	}

	fields := [][2]string{
		{"model", req.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
	}
	if req.Language != "" {
		fields = append(fields, [2]string{"language", req.Language})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, eris.Wrapf(err, "openai: write field %s", kv[0])
		}
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "openai: close multipart")
	}

	var result TranscriptionResponse
	if err := c.do(ctx, "/audio/transcriptions", mw.FormDataContentType(), &buf, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do posts body to path and decodes a 200 response into out. Non-200
// responses become resilience status errors so callers can retry them.
func (c *httpClient) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "openai: create request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "openai: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return resilience.StatusError(serviceName+" "+path, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "openai: unmarshal response")
	}
	return nil
}
