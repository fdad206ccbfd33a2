package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironclaw/core/internal/agent"
)

// countingProvider records how many times Complete was actually invoked, so
// tests can assert a cache hit never reached the wrapped provider.
type countingProvider struct {
	calls     int32
	responses [][]agent.CompletionChunk
}

func (p *countingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	call := int(atomic.AddInt32(&p.calls, 1)) - 1
	ch := make(chan *agent.CompletionChunk, 16)
	go func() {
		defer close(ch)
		if call >= len(p.responses) {
			ch <- &agent.CompletionChunk{Text: "fallback", Done: true}
			return
		}
		for _, c := range p.responses[call] {
			chunk := c
			ch <- &chunk
		}
	}()
	return ch, nil
}

func (p *countingProvider) CompleteWithTools(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return p.Complete(ctx, req)
}

func (p *countingProvider) Name() string          { return "counting" }
func (p *countingProvider) Models() []agent.Model { return nil }
func (p *countingProvider) SupportsTools() bool   { return true }
func (p *countingProvider) callCount() int        { return int(atomic.LoadInt32(&p.calls)) }

func drain(t *testing.T, ch <-chan *agent.CompletionChunk) string {
	t.Helper()
	var text string
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		text += chunk.Text
	}
	return text
}

func basicRequest() *agent.CompletionRequest {
	return &agent.CompletionRequest{
		Model:       "test-model",
		System:      "be helpful",
		Messages:    []agent.CompletionMessage{{Role: "user", Content: "hello"}},
		MaxTokens:   100,
		Temperature: 0,
	}
}

func TestResponseCache_MissThenHit(t *testing.T) {
	provider := &countingProvider{
		responses: [][]agent.CompletionChunk{
			{{Text: "hi there"}, {Done: true}},
		},
	}
	c := New(provider, Config{TTL: time.Minute, MaxEntries: 10})

	req := basicRequest()

	ch1, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := drain(t, ch1); got != "hi there" {
		t.Fatalf("first response = %q, want %q", got, "hi there")
	}

	ch2, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := drain(t, ch2); got != "hi there" {
		t.Fatalf("second response = %q, want %q", got, "hi there")
	}

	if provider.callCount() != 1 {
		t.Fatalf("provider called %d times, want 1 (second call should be served from cache)", provider.callCount())
	}

	stats := c.StatsSnapshot()
	if stats.TotalHits != 1 {
		t.Errorf("TotalHits = %d, want 1", stats.TotalHits)
	}
}

// CompleteWithTools must never be cached, regardless of what the response
// contains: even a text-only answer (the agentic loop's final, tool-free
// turn still calls CompleteWithTools, since Tools is always attached) is
// re-issued to the provider on every call.
func TestResponseCache_CompleteWithTools_NeverCached(t *testing.T) {
	provider := &countingProvider{
		responses: [][]agent.CompletionChunk{
			{{Text: "final answer"}, {Done: true}},
			{{Text: "final answer"}, {Done: true}},
		},
	}
	c := New(provider, Config{TTL: time.Minute, MaxEntries: 10})
	req := basicRequest()

	ch1, err := c.CompleteWithTools(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	drain(t, ch1)

	ch2, err := c.CompleteWithTools(context.Background(), req)
	if err != nil {
		t.Fatalf("CompleteWithTools: %v", err)
	}
	drain(t, ch2)

	if provider.callCount() != 2 {
		t.Fatalf("provider called %d times, want 2 (CompleteWithTools must never be cached)", provider.callCount())
	}

	stats := c.StatsSnapshot()
	if stats.Entries != 0 {
		t.Fatalf("Entries = %d, want 0 (CompleteWithTools must never populate the cache)", stats.Entries)
	}
}

// A tool call arriving on the cacheable Complete path (a caller issuing a
// request without advertising tools, but whose provider decides to call one
// anyway) still must not poison the cache for later identical requests that
// do complete cleanly — this only documents the current contract: Complete's
// caller is responsible for never invoking it with Tools populated.
func TestResponseCache_Complete_CachesAcrossCalls(t *testing.T) {
	provider := &countingProvider{
		responses: [][]agent.CompletionChunk{
			{{Text: "hi there"}, {Done: true}},
		},
	}
	c := New(provider, Config{TTL: time.Minute, MaxEntries: 10})
	req := basicRequest()

	ch1, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	drain(t, ch1)

	ch2, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := drain(t, ch2); got != "hi there" {
		t.Fatalf("second response = %q, want %q", got, "hi there")
	}
	if provider.callCount() != 1 {
		t.Fatalf("provider called %d times, want 1 (second call should be served from cache)", provider.callCount())
	}
}

// Two requests differing only in Model must never collide on the same
// cache key.
func TestResponseCache_PerModelIsolation(t *testing.T) {
	reqA := basicRequest()
	reqA.Model = "model-a"
	reqB := basicRequest()
	reqB.Model = "model-b"

	if Key(reqA) == Key(reqB) {
		t.Fatal("keys for different models collided")
	}
}

func TestResponseCache_KeyDeterministic(t *testing.T) {
	reqA := basicRequest()
	reqB := basicRequest()
	if Key(reqA) != Key(reqB) {
		t.Fatal("identical requests produced different keys")
	}
}

// An entry older than the configured TTL is not served, even though it has
// not been evicted by LRU size pressure.
func TestResponseCache_TTLExpiry(t *testing.T) {
	provider := &countingProvider{
		responses: [][]agent.CompletionChunk{
			{{Text: "first"}},
			{{Text: "second"}},
		},
	}
	c := New(provider, Config{TTL: 10 * time.Millisecond, MaxEntries: 10})
	req := basicRequest()

	ch1, _ := c.Complete(context.Background(), req)
	drain(t, ch1)

	time.Sleep(20 * time.Millisecond)

	ch2, _ := c.Complete(context.Background(), req)
	got := drain(t, ch2)
	if got != "second" {
		t.Fatalf("response after expiry = %q, want %q (expired entry replayed)", got, "second")
	}
	if provider.callCount() != 2 {
		t.Fatalf("provider called %d times, want 2", provider.callCount())
	}
}

// Once MaxEntries is exceeded, the least-recently-used entry is evicted
// first.
func TestResponseCache_LRUEviction(t *testing.T) {
	provider := &countingProvider{
		responses: [][]agent.CompletionChunk{
			{{Text: "resp-a"}},
			{{Text: "resp-b"}},
			{{Text: "resp-c"}},
		},
	}
	c := New(provider, Config{TTL: time.Minute, MaxEntries: 2})

	reqA := basicRequest()
	reqA.Messages[0].Content = "a"
	reqB := basicRequest()
	reqB.Messages[0].Content = "b"
	reqC := basicRequest()
	reqC.Messages[0].Content = "c"

	for _, req := range []*agent.CompletionRequest{reqA, reqB, reqC} {
		ch, _ := c.Complete(context.Background(), req)
		drain(t, ch)
	}

	if got := c.StatsSnapshot().Entries; got != 2 {
		t.Fatalf("Entries = %d, want 2 after exceeding MaxEntries", got)
	}

	// reqA should have been evicted (oldest, never re-accessed); refetching
	// it must call the provider again.
	before := provider.callCount()
	ch, _ := c.Complete(context.Background(), reqA)
	drain(t, ch)
	if provider.callCount() != before+1 {
		t.Fatalf("expected reqA to be a cache miss after eviction")
	}
}
