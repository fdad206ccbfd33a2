package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry manages hook registrations and runs dispatch at each named
// point in strict priority order. No two handlers at the same point ever
// run concurrently with each other.
type Registry struct {
	handlers map[Point][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[Point][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource sets the handler source (skill name, module name, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Register adds a handler at the given point with the given failure mode.
// Registration is expected at startup; dispatch takes a read lock so
// registering concurrently with in-flight dispatch is safe but discouraged.
func (r *Registry) Register(point Point, mode FailureMode, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:          uuid.New().String(),
		Point:       point,
		Handler:     handler,
		Priority:    PriorityNormal,
		FailureMode: mode,
	}

	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[point] = append(r.handlers[point], reg)
	r.byID[reg.ID] = reg

	sort.Slice(r.handlers[point], func(i, j int) bool {
		return r.handlers[point][i].Priority < r.handlers[point][j].Priority
	})

	r.logger.Debug("registered hook",
		"id", reg.ID,
		"point", point,
		"name", reg.Name,
		"priority", reg.Priority,
		"failure_mode", reg.FailureMode)

	return reg.ID
}

// Unregister removes a handler by its registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.byID[id]
	if !exists {
		return false
	}

	delete(r.byID, id)

	handlers := r.handlers[reg.Point]
	for i, h := range handlers {
		if h.ID == id {
			r.handlers[reg.Point] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}

	r.logger.Debug("unregistered hook", "id", id, "point", reg.Point)
	return true
}

// Clear removes all registered handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[Point][]*Registration)
	r.byID = make(map[string]*Registration)
}

// Dispatch runs every handler registered at point, in priority order, each
// one seeing the (possibly modified) event the previous handler produced.
// A handler's own Reject, or a FailClosed handler's Go error, short-circuits
// dispatch and returns a *RejectedError. A FailOpen handler's Go error is
// logged and dispatch continues with the event unchanged.
func (r *Registry) Dispatch(ctx context.Context, event *Event) (*Event, error) {
	if event == nil {
		return nil, fmt.Errorf("event is nil")
	}

	r.mu.RLock()
	handlers := make([]*Registration, len(r.handlers[event.Point]))
	copy(handlers, r.handlers[event.Point])
	r.mu.RUnlock()

	current := event
	for _, reg := range handlers {
		outcome, err := r.callHandler(ctx, reg, current)
		if err != nil {
			if reg.FailureMode == FailClosed {
				return nil, &RejectedError{Point: event.Point, Reason: "hook error", Cause: err}
			}
			r.logger.Warn("hook handler error, continuing (fail-open)",
				"point", event.Point,
				"handler_id", reg.ID,
				"handler_name", reg.Name,
				"error", err)
			continue
		}

		switch outcome.Kind {
		case KindReject:
			return nil, &RejectedError{Point: event.Point, Reason: outcome.Reason}
		case KindContinue:
			if outcome.Modified != nil {
				current = outcome.Modified
			}
		}
	}

	return current, nil
}

func (r *Registry) callHandler(ctx context.Context, reg *Registration, event *Event) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()

	return reg.Handler(ctx, event)
}

// RegisteredPoints returns all points with at least one registered handler.
func (r *Registry) RegisteredPoints() []Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	points := make([]Point, 0, len(r.handlers))
	for p := range r.handlers {
		points = append(points, p)
	}
	return points
}

// HandlerCount returns the number of handlers registered at a point.
func (r *Registry) HandlerCount(point Point) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[point])
}

// GetRegistration returns a registration by ID.
func (r *Registry) GetRegistration(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	return reg, ok
}

// ListRegistrations returns all registrations for a point, in priority order.
func (r *Registry) ListRegistrations(point Point) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.handlers[point]
	result := make([]*Registration, len(handlers))
	copy(result, handlers)
	return result
}
