// Package middleware provides reusable llm.Client decorators: rate
// limiting and retry. Adapted from the teacher's
// features/model/middleware.AdaptiveRateLimiter, simplified to a
// process-local token bucket — the teacher's cluster-coordinated variant
// depends on goa.design/pulse/rmap, which this core does not carry (see
// DESIGN.md, Dropped teacher modules).
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
	"github.com/Reynold-degenracy/EverMindAgent/internal/llm"
	"github.com/Reynold-degenracy/EverMindAgent/internal/retry"
	"github.com/Reynold-degenracy/EverMindAgent/internal/tool"
)

// RateLimiter applies a requests-per-minute token bucket in front of an
// llm.Client.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewRateLimiter builds a RateLimiter admitting up to requestsPerMinute
// calls per minute, with burst capacity equal to the same number (so a
// cold start can spend its whole first minute's budget immediately).
func NewRateLimiter(requestsPerMinute float64) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	burst := int(requestsPerMinute)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), burst)}
}

// Wait blocks until ctx is canceled or the bucket admits one call.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

type rateLimitedClient struct {
	next    llm.Client
	limiter *RateLimiter
}

// WithRateLimit wraps next so every Generate call first waits for rate
// limiter capacity.
func WithRateLimit(next llm.Client, limiter *RateLimiter) llm.Client {
	return &rateLimitedClient{next: next, limiter: limiter}
}

func (c *rateLimitedClient) Generate(ctx context.Context, messages []contentmodel.Message, tools []tool.Tool, systemPrompt string) (llm.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return llm.Response{}, err
	}
	return c.next.Generate(ctx, messages, tools, systemPrompt)
}

type retryingClient struct {
	next    llm.Client
	policy  retry.Policy
	observe retry.Observer
}

// WithRetry wraps next so Generate calls run under the given retry
// policy (spec.md §4.3, step 2: "LLM provider may transparently retry
// under the policy in §4.1"). A retry.Exhausted error surfaces unwrapped
// so the run loop can recognize it via errors.As.
func WithRetry(next llm.Client, policy retry.Policy, observe retry.Observer) llm.Client {
	return &retryingClient{next: next, policy: policy, observe: observe}
}

func (c *retryingClient) Generate(ctx context.Context, messages []contentmodel.Message, tools []tool.Tool, systemPrompt string) (llm.Response, error) {
	return retry.Do(ctx, c.policy, c.observe, func(ctx context.Context) (llm.Response, error) {
		return c.next.Generate(ctx, messages, tools, systemPrompt)
	})
}
