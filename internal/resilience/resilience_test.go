package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("busy"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(4), func(context.Context) (string, error) {
		calls++
		return "partial", NewTransientError(errors.New("timeout"), 504)
	})
	require.Error(t, err)
	assert.Empty(t, v)
	assert.Equal(t, 4, calls)
}

func TestDoVal_ContextCancelStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := DoVal(ctx, cfg, func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("flaky"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_CappedAndNonNegative(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, Multiplier: 10, JitterFraction: 0.5}.normalized()
	for attempt := 0; attempt < 5; attempt++ {
		d := cfg.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 4500*time.Millisecond)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", NewTransientError(errors.New("x"), 429))))
	assert.True(t, IsTransient(timeoutErr{}))
	assert.True(t, IsTransient(eris.Wrap(syscall.ECONNRESET, "read")))
	assert.True(t, IsTransient(errors.New("write: broken pipe")))
	assert.False(t, IsTransient(errors.New("invalid api key")))
}

func TestStatusError(t *testing.T) {
	err := StatusError("openai", 503, []byte("overloaded"))
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
	assert.Contains(t, err.Error(), "overloaded")

	err = StatusError("openai", 401, []byte("unauthorized"))
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "401")
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", FailureThreshold: 2, ResetTimeout: time.Minute})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return boom }), boom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, eris.Is(err, ErrCircuitOpen))
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("still down") })

	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ShouldTripFilters(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ShouldTrip: IsTransient})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("permanent") })
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), func(context.Context) error {
		return NewTransientError(errors.New("503"), 503)
	})
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
