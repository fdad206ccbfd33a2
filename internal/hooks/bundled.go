package hooks

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ironclaw/core/internal/safety"
)

// TextPayload is the payload shape the bundled content-filter and
// leak-detection handlers expect at BeforeInbound, BeforeOutbound, and
// TransformResponse: a plain string of message or response content keyed
// by this type so a handler can type-assert without guessing the event's
// originating point.
type TextPayload struct {
	UserID  string
	Channel string
	Content string
}

// ContentFilterHandler returns a Handler wrapping a safety.Sanitizer. Events
// whose Payload is not a *TextPayload pass through untouched. A critical
// injection pattern rejects the event; a lower-severity match replaces the
// event with a sanitized copy and continues.
//
// Register at BeforeInbound and BeforeOutbound with FailOpen: a broken
// sanitizer should not itself become a denial-of-service vector.
func ContentFilterHandler(sanitizer *safety.Sanitizer) Handler {
	return func(ctx context.Context, event *Event) (Outcome, error) {
		text, ok := event.Payload.(*TextPayload)
		if !ok {
			return ContinueWith(nil), nil
		}

		result, err := sanitizer.Sanitize(text.Content)
		if err != nil {
			var rejected *safety.RejectedError
			if errors.As(err, &rejected) {
				return Reject(fmt.Sprintf("critical injection detected: %s", rejected.Pattern)), nil
			}
			return Outcome{}, err
		}

		if !result.WasModified {
			return ContinueWith(nil), nil
		}

		modified := *event
		modifiedPayload := *text
		modifiedPayload.Content = result.Content
		modified.Payload = &modifiedPayload
		return ContinueWith(&modified), nil
	}
}

// LeakDetectionHandler returns a Handler wrapping a safety.LeakDetector.
// Events whose Payload is not a *TextPayload pass through untouched. A
// Block-tier secret rejects the event; a Redact-tier match replaces the
// event with a redacted copy.
//
// Register at BeforeOutbound and TransformResponse with FailClosed: unlike
// the content filter, a scanner that cannot run must not let content
// through unscanned.
func LeakDetectionHandler(detector *safety.LeakDetector) Handler {
	return func(ctx context.Context, event *Event) (Outcome, error) {
		text, ok := event.Payload.(*TextPayload)
		if !ok {
			return ContinueWith(nil), nil
		}

		result, err := detector.ScanString(text.Content)
		if err != nil {
			var blocked *safety.BlockedError
			if errors.As(err, &blocked) {
				return Reject("content blocked: potential secret leakage detected"), nil
			}
			return Outcome{}, err
		}

		if !result.WasModified {
			return ContinueWith(nil), nil
		}

		modified := *event
		modifiedPayload := *text
		modifiedPayload.Content = result.Content
		modified.Payload = &modifiedPayload
		return ContinueWith(&modified), nil
	}
}

// RateLimitingHandler enforces maxPerMinute events per user in a rolling
// one-minute window, keyed on event.SessionID falling back to event.AgentID
// when SessionID is empty. Not registered by default; callers that want
// inbound or tool-call throttling register it explicitly.
//
// Register with FailOpen: the limiter itself never errors, so failure mode
// only matters if a future revision adds a backing store that can.
func RateLimitingHandler(maxPerMinute int) Handler {
	rl := &rateLimiter{
		max:     maxPerMinute,
		buckets: make(map[string]*list.List),
	}
	return rl.handle
}

type rateLimiter struct {
	mu      sync.Mutex
	max     int
	buckets map[string]*list.List
}

const rateLimiterEvictionThreshold = 1000

func (rl *rateLimiter) handle(ctx context.Context, event *Event) (Outcome, error) {
	key := event.SessionID
	if key == "" {
		key = event.AgentID
	}
	if key == "" {
		return ContinueWith(nil), nil
	}

	now := time.Now()
	window := time.Minute

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.buckets) > rateLimiterEvictionThreshold {
		for k, bucket := range rl.buckets {
			if bucket.Len() == 0 {
				delete(rl.buckets, k)
			}
		}
	}

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = list.New()
		rl.buckets[key] = bucket
	}

	for front := bucket.Front(); front != nil; front = bucket.Front() {
		if now.Sub(front.Value.(time.Time)) > window {
			bucket.Remove(front)
			continue
		}
		break
	}

	if bucket.Len() >= rl.max {
		return Reject(fmt.Sprintf("rate limit exceeded: %d requests per minute", rl.max)), nil
	}

	bucket.PushBack(now)
	return ContinueWith(nil), nil
}

// AuditLoggingHandler returns a Handler that logs every event it sees at
// Info level and always continues; it never rejects or modifies. Register
// at PriorityHighest so the audit trail captures an event even if a later,
// stricter handler rejects it.
func AuditLoggingHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("hook", "audit")
	return func(ctx context.Context, event *Event) (Outcome, error) {
		logger.Info("audit",
			"point", event.Point,
			"session_id", event.SessionID,
			"agent_id", event.AgentID,
			"timestamp", event.Timestamp)
		return ContinueWith(nil), nil
	}
}

// RegisterBundled wires the standard hook set onto a Registry: content
// filtering and leak detection on the safety-relevant boundaries, audit
// logging everywhere, and (only when maxPerMinute > 0) rate limiting on
// inbound submission and tool calls.
func RegisterBundled(r *Registry, sanitizer *safety.Sanitizer, detector *safety.LeakDetector, maxPerMinute int, logger *slog.Logger) {
	contentFilter := ContentFilterHandler(sanitizer)
	r.Register(BeforeInbound, FailOpen, contentFilter, WithName("builtin:content_filter"), WithPriority(PriorityNormal))
	r.Register(BeforeOutbound, FailOpen, contentFilter, WithName("builtin:content_filter"), WithPriority(PriorityNormal))

	leakDetection := LeakDetectionHandler(detector)
	r.Register(BeforeOutbound, FailClosed, leakDetection, WithName("builtin:leak_detection"), WithPriority(PriorityHigh))
	r.Register(TransformResponse, FailClosed, leakDetection, WithName("builtin:leak_detection"), WithPriority(PriorityHigh))

	if maxPerMinute > 0 {
		limiter := RateLimitingHandler(maxPerMinute)
		r.Register(BeforeInbound, FailOpen, limiter, WithName("builtin:rate_limiter"), WithPriority(PriorityHigh))
		r.Register(BeforeToolCall, FailOpen, limiter, WithName("builtin:rate_limiter"), WithPriority(PriorityHigh))
	}

	audit := AuditLoggingHandler(logger)
	for _, point := range []Point{
		BeforeInbound, AfterParse, BeforeAgenticLoop, BeforeLlmCall, BeforeToolCall,
		AfterToolCall, BeforeApproval, TransformResponse, BeforeOutbound,
		OnSessionStart, OnSessionEnd,
	} {
		r.Register(point, FailOpen, audit, WithName("builtin:audit_log"), WithPriority(PriorityHighest))
	}
}
