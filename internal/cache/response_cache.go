// Package cache implements the deterministic response cache that sits in
// front of an agent.LLMProvider, and the short-lived inbound message
// deduplication cache in dedupe.go.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ironclaw/core/internal/agent"
	"github.com/ironclaw/core/internal/config"
)

// statsLogInterval is how often (in total lookups) the cache emits a
// summary log line.
const statsLogInterval = 100

// cachedResponse is the assembled, replayable result of one non-tool
// completion: its full text plus the token counts from the final chunk.
type cachedResponse struct {
	text         string
	inputTokens  int
	outputTokens int
}

// entry is one cache slot, carrying both the stored response and its LRU
// bookkeeping.
type entry struct {
	key          string
	response     cachedResponse
	createdAt    time.Time
	lastAccessed time.Time
	hitCount     int64
}

// ResponseCache wraps an agent.LLMProvider, memoizing text-only completions
// keyed by a deterministic hash of the request. Responses that included
// tool calls are never stored: tool calls have side effects and must not be
// replayed from cache.
//
// Eviction applies TTL expiry before LRU size eviction: an expired entry is
// purged even if the cache is under MaxEntries, and a fresh entry never
// evicts an unexpired one while capacity remains.
type ResponseCache struct {
	provider agent.LLMProvider
	ttl      time.Duration
	maxSize  int
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	totalRequests int64
	totalHits     int64
}

// Config configures a ResponseCache. Zero values fall back to the same
// defaults as internal/config's CacheConfig: a 5 minute TTL and 1000 max
// entries.
type Config struct {
	TTL        time.Duration
	MaxEntries int
	Logger     *slog.Logger
}

// New wraps provider in a ResponseCache.
func New(provider agent.LLMProvider, cfg Config) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{
		provider: provider,
		ttl:      cfg.TTL,
		maxSize:  cfg.MaxEntries,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// NewFromConfig wraps provider in a ResponseCache using a CacheConfig
// loaded from YAML/env, as produced by internal/config.Load.
func NewFromConfig(provider agent.LLMProvider, cfg config.CacheConfig, logger *slog.Logger) *ResponseCache {
	return New(provider, Config{TTL: cfg.TTL, MaxEntries: cfg.MaxEntries, Logger: logger})
}

func (c *ResponseCache) Name() string          { return c.provider.Name() }
func (c *ResponseCache) Models() []agent.Model { return c.provider.Models() }
func (c *ResponseCache) SupportsTools() bool   { return c.provider.SupportsTools() }

// Complete serves a cached response when one exists and has not expired. On
// a miss, it delegates to the wrapped provider and drains the resulting
// stream; unless the response carried an error, the assembled text is
// cached before being replayed to the caller as a single chunk.
//
// Complete must never be called with req.Tools populated — a tool-enabled
// turn goes through CompleteWithTools, which is never cached regardless of
// what the response turns out to contain. Cacheability here is decided by
// which method the caller invoked, not by inspecting the response.
func (c *ResponseCache) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	key := Key(req)

	if cached, ok := c.lookup(key); ok {
		return replay(cached), nil
	}

	upstream, err := c.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.CompletionChunk, 16)
	go c.drainAndCache(key, upstream, out)
	return out, nil
}

// CompleteWithTools always bypasses the cache, both for lookups and for
// storage: a tool-enabled turn can trigger side effects and its answer
// depends on more than the prompt text, so it must always reach the
// provider live and is never memoized.
func (c *ResponseCache) CompleteWithTools(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return c.provider.CompleteWithTools(ctx, req)
}

// drainAndCache forwards every chunk from upstream to out unchanged, while
// also assembling the full response. If the assembled response carried no
// error, it is stored in the cache once the stream closes.
func (c *ResponseCache) drainAndCache(key string, upstream <-chan *agent.CompletionChunk, out chan<- *agent.CompletionChunk) {
	defer close(out)

	var text string
	var sawError bool
	var inputTokens, outputTokens int

	for chunk := range upstream {
		if chunk.Error != nil {
			sawError = true
		}
		if chunk.Text != "" {
			text += chunk.Text
		}
		if chunk.InputTokens > 0 {
			inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			outputTokens = chunk.OutputTokens
		}
		out <- chunk
	}

	if sawError {
		return
	}

	c.insert(key, cachedResponse{text: text, inputTokens: inputTokens, outputTokens: outputTokens})
}

// replay renders a stored cachedResponse back into a single-chunk stream,
// matching the shape a live, tool-free completion would have produced.
func replay(r cachedResponse) <-chan *agent.CompletionChunk {
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{
		Text:         r.text,
		Done:         true,
		InputTokens:  r.inputTokens,
		OutputTokens: r.outputTokens,
	}
	close(ch)
	return ch
}

// lookup returns a cache hit, evicting the entry first if it has expired.
func (c *ResponseCache) lookup(key string) (cachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	defer c.maybeLogStatsLocked()

	elem, ok := c.entries[key]
	if !ok {
		return cachedResponse{}, false
	}

	e := elem.Value.(*entry)
	if time.Since(e.createdAt) >= c.ttl {
		c.removeLocked(elem)
		return cachedResponse{}, false
	}

	e.lastAccessed = time.Now()
	e.hitCount++
	c.order.MoveToFront(elem)
	c.totalHits++

	return e.response, true
}

// insert purges expired entries, evicts the least-recently-used entry if at
// capacity, then stores the new entry at the front of the LRU order.
func (c *ResponseCache) insert(key string, resp cachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	now := time.Now()
	elem := c.order.PushFront(&entry{
		key:          key,
		response:     resp,
		createdAt:    now,
		lastAccessed: now,
	})
	c.entries[key] = elem
}

func (c *ResponseCache) purgeExpiredLocked() {
	if c.ttl <= 0 {
		return
	}
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if time.Since(e.createdAt) >= c.ttl {
			c.removeLocked(elem)
		}
		elem = prev
	}
}

func (c *ResponseCache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(elem)
}

func (c *ResponseCache) maybeLogStatsLocked() {
	if c.totalRequests == 0 || c.totalRequests%statsLogInterval != 0 {
		return
	}
	hitRate := float64(c.totalHits) / float64(c.totalRequests)
	c.logger.Info("response cache stats",
		"total_requests", c.totalRequests,
		"total_hits", c.totalHits,
		"hit_rate", hitRate,
		"entries", len(c.entries),
	)
}

// Stats is a point-in-time snapshot of cache statistics.
type Stats struct {
	TotalRequests int64
	TotalHits     int64
	Entries       int
}

// StatsSnapshot returns the current cache statistics.
func (c *ResponseCache) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalRequests: c.totalRequests,
		TotalHits:     c.totalHits,
		Entries:       len(c.entries),
	}
}

// Key computes the deterministic SHA-256 cache key for req, over
// model ‖ system ‖ messages ‖ max_tokens ‖ temperature ‖ stop_sequences.
// Every field is hashed with an explicit length prefix rather than a
// separator character, so no ambiguous concatenation of adjacent fields can
// collide two distinct requests onto the same key.
func Key(req *agent.CompletionRequest) string {
	h := sha256.New()

	writeString(h, req.Model)
	writeString(h, req.System)

	writeInt64(h, int64(len(req.Messages)))
	for _, m := range req.Messages {
		writeString(h, m.Role)
		writeString(h, m.Content)
		writeString(h, m.ToolCallID)
		writeString(h, m.Name)
		writeInt64(h, int64(len(m.ToolCalls)))
		for _, tc := range m.ToolCalls {
			writeString(h, tc.ID)
			writeString(h, tc.Name)
			h.Write(tc.Arguments)
		}
	}

	writeInt64(h, int64(req.MaxTokens))
	var tempBuf [8]byte
	binary.BigEndian.PutUint64(tempBuf[:], math.Float64bits(req.Temperature))
	h.Write(tempBuf[:])

	writeInt64(h, int64(len(req.StopSequences)))
	for _, s := range req.StopSequences {
		writeString(h, s)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	writeInt64(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeInt64(h interface{ Write([]byte) (int, error) }, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}
