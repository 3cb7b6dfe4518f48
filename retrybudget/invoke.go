// Package retrybudget wraps a single agent invocation with the retry and
// cumulative token-budget policy shared by every pattern executor. It is
// grounded directly on the teacher's runtime/a2a/retry package (Config,
// ExhaustedError, exponential-backoff-with-jitter Do loop), adapted to
// classify retryability from providererr.Kind instead of HTTP status codes
// and net.Error, and extended with cumulative token-budget enforcement.
package retrybudget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/providererr"
)

// Backoff names the wait-schedule strategy between retry attempts.
type Backoff string

const (
	// BackoffConstant waits a fixed duration between attempts.
	BackoffConstant Backoff = "constant"
	// BackoffExponential waits w*2^n between attempts.
	BackoffExponential Backoff = "exponential"
	// BackoffJittered waits w*2^n plus or minus a uniform random jitter.
	BackoffJittered Backoff = "jittered"
)

const (
	minWait = 1 * time.Second
	maxWait = 60 * time.Second
)

// Config configures the retry and budget policy for a single invocation.
type Config struct {
	// Retries is the number of retries after the initial attempt; total
	// attempts = Retries + 1.
	Retries int
	// Backoff selects the wait-schedule strategy.
	Backoff Backoff
	// Wait is the base wait duration (w) fed into the backoff schedule.
	Wait time.Duration
}

// BudgetExceeded reports that cumulative token usage exceeded the
// configured budget. It is never retried.
type BudgetExceeded struct {
	CumulativeTokens int
	MaxTokens        int
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("retrybudget: cumulative tokens %d exceed budget %d", e.CumulativeTokens, e.MaxTokens)
}

// ExhaustedError is returned when all retry attempts have been exhausted
// without a non-retryable outcome.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retrybudget: exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// TokenBudget tracks cumulative token usage across invocations sharing a
// single run, enforcing MaxTokens across the lifetime of that run. Safe for
// concurrent use; parallel branches and orchestrator workers share one
// TokenBudget per spec.md §5 token-counter note.
type TokenBudget struct {
	cumulative int64
	max        int64
}

// NewTokenBudget returns a TokenBudget enforcing max tokens. max <= 0
// disables enforcement.
func NewTokenBudget(max int) *TokenBudget {
	return &TokenBudget{max: int64(max)}
}

// Add records delta additional tokens and reports whether cumulative usage
// now exceeds the configured budget.
func (b *TokenBudget) Add(delta int) (cumulative int, exceeded bool) {
	total := atomic.AddInt64(&b.cumulative, int64(delta))
	if b.max > 0 && total > b.max {
		return int(total), true
	}
	return int(total), false
}

// Cumulative returns the current cumulative token count.
func (b *TokenBudget) Cumulative() int { return int(atomic.LoadInt64(&b.cumulative)) }

// Record is the outcome of a successful invoke, annotated with the wait
// spent and tokens consumed so the caller can update step history and
// totals.
type Record struct {
	Text          string
	Tokens        int
	InputTokens   int
	OutputTokens  int
	DurationSecs  float64
	StopReason    string
	AttemptsTaken int
}

// OnRetry, when non-nil, is invoked before each retried attempt so callers
// can emit a retry_attempt event.
type OnRetry func(attempt int, err error, wait time.Duration)

// Invoke applies at most cfg.Retries+1 attempts of fn, retrying only on
// providererr.Kind.Transient() failures, and enforces budget against the
// shared TokenBudget after every attempt (successful or not) that reports
// usage. budget may be nil to disable enforcement.
func Invoke(ctx context.Context, cfg Config, budget *TokenBudget, onRetry OnRetry, fn func(ctx context.Context) (*model.Response, error)) (*Record, error) {
	attempts := cfg.Retries + 1
	if attempts <= 0 {
		attempts = 1
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			cumulative := 0
			exceeded := false
			if budget != nil {
				cumulative, exceeded = budget.Add(resp.Usage.TotalTokens())
			}
			if exceeded {
				return nil, &BudgetExceeded{CumulativeTokens: cumulative, MaxTokens: int(budget.max)}
			}
			return &Record{
				Text:          resp.Text,
				Tokens:        resp.Usage.TotalTokens(),
				InputTokens:   resp.Usage.InputTokens,
				OutputTokens:  resp.Usage.OutputTokens,
				DurationSecs:  time.Since(start).Seconds(),
				StopReason:    resp.StopReason,
				AttemptsTaken: attempt,
			}, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt >= attempts {
			break
		}

		wait := calculateWait(cfg, attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, &ExhaustedError{
		Attempts:      attempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// isRetryable reports whether err should trigger a retry: only errors
// classified into a providererr.Kind that is Transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	pe, ok := providererr.As(err)
	if !ok {
		return false
	}
	return pe.Kind.Transient()
}

func calculateWait(cfg Config, attempt int) time.Duration {
	w := cfg.Wait
	if w <= 0 {
		w = time.Second
	}
	var wait time.Duration
	switch cfg.Backoff {
	case BackoffExponential, BackoffJittered:
		wait = time.Duration(float64(w) * math.Pow(2, float64(attempt-1)))
	default:
		wait = w
	}
	if cfg.Backoff == BackoffJittered {
		delta := float64(wait) * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
		wait += time.Duration(delta)
	}
	if wait < minWait {
		wait = minWait
	}
	if wait > maxWait {
		wait = maxWait
	}
	return wait
}
