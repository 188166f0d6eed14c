package enhance

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clipscript/pkg/anthropic"
	"github.com/sells-group/clipscript/pkg/openai"
)

// OpenAICompleter calls an OpenAI-compatible chat completions endpoint.
type OpenAICompleter struct {
	Client      openai.Client
	Model       string
	Temperature float64
	MaxTokens   int
}

// Name implements Completer.
func (o *OpenAICompleter) Name() string { return "openai" }

// Complete implements Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	temp := o.Temperature
	req := openai.ChatCompletionRequest{
		Model: o.Model,
		Messages: []openai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &temp,
	}
	if o.MaxTokens > 0 {
		mt := o.MaxTokens
		req.MaxTokens = &mt
	}

	resp, err := o.Client.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("enhance: response has no choices")
	}
	return resp.Text(), nil
}

// AnthropicCompleter calls the Anthropic Messages API.
type AnthropicCompleter struct {
	Client      anthropic.Client
	Model       string
	Temperature float64
	MaxTokens   int
}

// Name implements Completer.
func (a *AnthropicCompleter) Name() string { return "anthropic" }

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	maxTokens := int64(a.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temp := a.Temperature
	resp, err := a.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
