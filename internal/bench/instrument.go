package bench

import (
	"context"
	"sync"

	"github.com/ironclaw/core/internal/agent"
)

// CostRates gives the per-token input/output cost used to estimate a task's
// dollar cost. Zero rates are valid (estimated cost stays zero).
type CostRates struct {
	InputPerToken  float64
	OutputPerToken float64
}

// instrumentedProvider wraps an agent.LLMProvider, counting calls and
// tokens so a Runner can attach per-task cost/usage to its Trace without
// requiring every LLMProvider implementation to track its own usage. One
// instance is created per task run; its counters are read once after the
// task completes and never reset, so there is no concurrent-access
// hazard beyond acquiring the mutex around the handful of int fields.
type instrumentedProvider struct {
	inner agent.LLMProvider
	rates CostRates

	mu           sync.Mutex
	calls        int
	inputTokens  int
	outputTokens int
}

func newInstrumentedProvider(inner agent.LLMProvider, rates CostRates) *instrumentedProvider {
	return &instrumentedProvider{inner: inner, rates: rates}
}

func (p *instrumentedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return p.instrument(p.inner.Complete(ctx, req))
}

func (p *instrumentedProvider) CompleteWithTools(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return p.instrument(p.inner.CompleteWithTools(ctx, req))
}

func (p *instrumentedProvider) instrument(upstream <-chan *agent.CompletionChunk, err error) (<-chan *agent.CompletionChunk, error) {
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	out := make(chan *agent.CompletionChunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			if chunk.InputTokens > 0 || chunk.OutputTokens > 0 {
				p.mu.Lock()
				p.inputTokens += chunk.InputTokens
				p.outputTokens += chunk.OutputTokens
				p.mu.Unlock()
			}
			out <- chunk
		}
	}()
	return out, nil
}

func (p *instrumentedProvider) Name() string          { return p.inner.Name() }
func (p *instrumentedProvider) Models() []agent.Model { return p.inner.Models() }
func (p *instrumentedProvider) SupportsTools() bool   { return p.inner.SupportsTools() }

// usage returns the accumulated call/token counts and their estimated cost.
func (p *instrumentedProvider) usage() (calls, inputTokens, outputTokens int, costUSD float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cost := float64(p.inputTokens)*p.rates.InputPerToken + float64(p.outputTokens)*p.rates.OutputPerToken
	return p.calls, p.inputTokens, p.outputTokens, cost
}
