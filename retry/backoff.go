package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"realtimechat/errs"
)

// Policy configures exponential backoff between attempts.
type Policy struct {
	MaxRetries int           // retries after the first attempt; negative means unlimited
	BaseDelay  time.Duration // delay before the first delayed retry
	MaxDelay   time.Duration // cap for any single delay
	Multiplier float64
	Immediate  bool // first retry happens without waiting
	Jitter     bool // +/-10% random jitter
}

// DefaultPolicy is used for one-shot backend reads and writes.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// SendPolicy gives a message send four retries at 1s, 2s, 4s and 8s.
func SendPolicy() Policy {
	return Policy{
		MaxRetries: 4,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// ResubscribePolicy retries immediately, then 1s, 2s, 4s ... capped at 30s, forever.
func ResubscribePolicy() Policy {
	return Policy{
		MaxRetries: -1,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Immediate:  true,
	}
}

// ResolvePolicy allows three attempts in total.
func ResolvePolicy() Policy {
	return Policy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
	}
}

// Delay returns the wait before retry number n (0-based).
func (p Policy) Delay(n int) time.Duration {
	if p.Immediate {
		if n == 0 {
			return 0
		}
		n--
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(p.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// Exhausted reports whether retry number n is past the policy's cap.
func (p Policy) Exhausted(n int) bool {
	return p.MaxRetries >= 0 && n >= p.MaxRetries
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result describes a finished Do call.
type Result struct {
	Attempts  int
	Delays    []time.Duration
	LastError error
	Success   bool
}

// Err is nil on success and the last error otherwise.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return r.LastError
}

type runner struct {
	sleep   Sleeper
	retryIf func(error) bool
	log     zerolog.Logger
	op      string
}

// Option customises a Do call.
type Option func(*runner)

// WithSleeper replaces the real-time sleeper, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(r *runner) {
		if s != nil {
			r.sleep = s
		}
	}
}

// WithRetryIf overrides which errors are retried. The default retries transient errors only.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *runner) { r.retryIf = fn }
}

// WithLogger logs retries under the given operation name.
func WithLogger(log zerolog.Logger, op string) Option {
	return func(r *runner) {
		r.log = log
		r.op = op
	}
}

// Do runs operation until it succeeds, fails with a non-retryable error,
// the policy is exhausted or ctx is done.
func Do(ctx context.Context, p Policy, operation func(ctx context.Context) error, opts ...Option) Result {
	r := runner{sleep: Sleep, retryIf: errs.IsTransient, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&r)
	}

	var result Result
	for retries := 0; ; retries++ {
		result.Attempts++
		err := operation(ctx)
		if err == nil {
			result.Success = true
			if retries > 0 {
				r.log.Debug().Str("op", r.op).Int("attempts", result.Attempts).Msg("operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if !r.retryIf(err) {
			return result
		}
		if p.Exhausted(retries) {
			r.log.Warn().Err(err).Str("op", r.op).Int("attempts", result.Attempts).Msg("retries exhausted")
			return result
		}
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			return result
		}

		delay := p.Delay(retries)
		result.Delays = append(result.Delays, delay)
		r.log.Debug().Err(err).Str("op", r.op).Int("attempt", result.Attempts).Dur("backoff", delay).Msg("retrying")
		if err := r.sleep(ctx, delay); err != nil {
			result.LastError = err
			return result
		}
	}
}
