package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetryingGenerator retries calls that failed with a Retryable error, with
// exponential backoff. Malformed output and timeouts are returned at once:
// the engine owns re-prompting and per-call deadlines.
type RetryingGenerator struct {
	next        StructuredGenerator
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      zerolog.Logger
}

// NewRetryingGenerator wraps next. maxAttempts < 1 means a single attempt;
// baseDelay <= 0 defaults to 500ms.
func NewRetryingGenerator(next StructuredGenerator, maxAttempts int, baseDelay time.Duration, logger zerolog.Logger) *RetryingGenerator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &RetryingGenerator{
		next:        next,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    30 * time.Second,
		logger:      logger,
	}
}

// GenerateStructured implements StructuredGenerator.
func (r *RetryingGenerator) GenerateStructured(ctx context.Context, req StructuredRequest, out any) error {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		err := r.next.GenerateStructured(ctx, req, out)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		last = err
		if i == r.maxAttempts-1 {
			break
		}

		delay := r.backoff(i)
		r.logger.Debug().
			Err(err).
			Str("request", req.Name).
			Int("attempt", i+1).
			Dur("delay", delay).
			Msg("retrying generative call")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return last
}

func (r *RetryingGenerator) backoff(attempt int) time.Duration {
	d := r.baseDelay * time.Duration(1<<attempt)
	if d > r.maxDelay || d <= 0 {
		return r.maxDelay
	}
	return d
}

// GetModel returns the wrapped generator's model.
func (r *RetryingGenerator) GetModel() string {
	return r.next.GetModel()
}

var _ StructuredGenerator = (*RetryingGenerator)(nil)
