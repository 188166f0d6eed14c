// Package enhance polishes raw speech-to-text output with an LLM. Every
// failure path degrades to the unmodified transcript.
package enhance

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clipscript/internal/resilience"
)

// SystemPrompt instructs the model to correct ASR output without rewriting it.
const SystemPrompt = `你是中文语音转写文本的校对助手。输入是自动语音识别(ASR)的原始结果，请在不改变原意的前提下修正它。

需要处理：
1. 根据上下文纠正同音字、近音词造成的错误
2. 补全并修正标点符号
3. 调整断句，合并被错误拆开的句子，拆分被错误连在一起的句子
4. 修正被识别错的专有名词和术语
5. 保留口语风格，只修正明显的语病

不要做：
- 添加原文没有的信息
- 删除有意义的内容
- 改变说话人的语气或改写成书面语

只输出修正后的全文，不要解释，不要使用 markdown。`

const userPromptPrefix = "请校对以下语音识别文本：\n\n"

// Completer sends one system + user exchange to a model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

// Config tunes the enhancement service.
type Config struct {
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
}

// Service wraps a Completer with retry, a circuit breaker, and per-call
// timeouts.
type Service struct {
	completer Completer
	cfg       Config
	breaker   *resilience.CircuitBreaker
}

// New creates an enhancement service.
func New(c Completer, cfg Config) *Service {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "enhance-" + c.Name()
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = resilience.DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		cfg.Breaker.ResetTimeout = resilience.DefaultCircuitBreakerConfig().ResetTimeout
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(c.Name(), "enhance")
	}
	return &Service{completer: c, cfg: cfg, breaker: resilience.NewCircuitBreaker(cfg.Breaker)}
}

// Breaker exposes the circuit breaker for health reporting.
func (s *Service) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Enhance returns the polished text. On any failure it returns raw together
// with the error so callers can log it and carry on.
func (s *Service) Enhance(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return raw, nil
	}

	start := time.Now()
	out, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (string, error) {
		return resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) (string, error) {
			if s.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
				defer cancel()
			}
			return s.completer.Complete(ctx, SystemPrompt, userPromptPrefix+raw)
		})
	})
	if err != nil {
		return raw, eris.Wrapf(err, "enhance: %s", s.completer.Name())
	}

	out = strings.TrimSpace(out)
	if out == "" {
		zap.L().Warn("enhance: model returned empty text, keeping raw transcript",
			zap.String("provider", s.completer.Name()),
		)
		return raw, nil
	}

	zap.L().Info("enhance: transcript polished",
		zap.String("provider", s.completer.Name()),
		zap.Int("raw_chars", len([]rune(raw))),
		zap.Int("enhanced_chars", len([]rune(out))),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
