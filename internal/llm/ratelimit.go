package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedGenerator waits on a token bucket before every call.
type RateLimitedGenerator struct {
	next    StructuredGenerator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps next with a limiter allowing rps requests per
// second with the given burst. rps <= 0 returns next unchanged.
func NewRateLimitedGenerator(next StructuredGenerator, rps float64, burst int) StructuredGenerator {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// GenerateStructured implements StructuredGenerator.
func (r *RateLimitedGenerator) GenerateStructured(ctx context.Context, req StructuredRequest, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Wait fails early when the deadline cannot be met.
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return r.next.GenerateStructured(ctx, req, out)
}

// GetModel returns the wrapped generator's model.
func (r *RateLimitedGenerator) GetModel() string {
	return r.next.GetModel()
}

var _ StructuredGenerator = (*RateLimitedGenerator)(nil)
