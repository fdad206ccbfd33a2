package hooks

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)

	called := false
	id := r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		called = true
		return ContinueWith(nil), nil
	})

	if id == "" {
		t.Error("expected non-empty registration ID")
	}

	if r.HandlerCount(BeforeToolCall) != 1 {
		t.Errorf("expected 1 handler, got %d", r.HandlerCount(BeforeToolCall))
	}

	event := NewEvent(BeforeToolCall, nil)
	if _, err := r.Dispatch(context.Background(), event); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if !called {
		t.Error("handler was not called")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)

	id := r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return ContinueWith(nil), nil
	})

	if !r.Unregister(id) {
		t.Error("expected Unregister to return true")
	}

	if r.HandlerCount(BeforeToolCall) != 0 {
		t.Errorf("expected 0 handlers after unregister, got %d", r.HandlerCount(BeforeToolCall))
	}

	if r.Unregister(id) {
		t.Error("expected Unregister to return false for already-removed handler")
	}
}

func TestRegistry_Priority(t *testing.T) {
	r := NewRegistry(nil)

	var order []int

	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		order = append(order, 2)
		return ContinueWith(nil), nil
	}, WithPriority(PriorityNormal))

	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		order = append(order, 1)
		return ContinueWith(nil), nil
	}, WithPriority(PriorityHigh))

	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		order = append(order, 3)
		return ContinueWith(nil), nil
	}, WithPriority(PriorityLow))

	event := NewEvent(BeforeToolCall, nil)
	if _, err := r.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(order))
	}

	if order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected order [1,2,3], got %v", order)
	}
}

func TestRegistry_Dispatch_ModifiedEventFlowsForward(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		modified := NewEvent(e.Point, "rewritten")
		return ContinueWith(modified), nil
	}, WithPriority(PriorityHigh))

	var seenPayload any
	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		seenPayload = e.Payload
		return ContinueWith(nil), nil
	}, WithPriority(PriorityLow))

	event := NewEvent(BeforeToolCall, "original")
	final, err := r.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if seenPayload != "rewritten" {
		t.Errorf("expected second handler to see rewritten payload, got %v", seenPayload)
	}
	if final.Payload != "rewritten" {
		t.Errorf("expected final event payload rewritten, got %v", final.Payload)
	}
}

func TestRegistry_Dispatch_RejectShortCircuits(t *testing.T) {
	r := NewRegistry(nil)

	var secondCalled bool

	r.Register(BeforeOutbound, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return Reject("leaked secret"), nil
	}, WithPriority(PriorityHigh))

	r.Register(BeforeOutbound, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		secondCalled = true
		return ContinueWith(nil), nil
	}, WithPriority(PriorityLow))

	event := NewEvent(BeforeOutbound, nil)
	_, err := r.Dispatch(context.Background(), event)

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *RejectedError, got %v", err)
	}
	if rejected.Reason != "leaked secret" {
		t.Errorf("expected reason 'leaked secret', got %q", rejected.Reason)
	}
	if secondCalled {
		t.Error("second handler should not run after a reject short-circuits dispatch")
	}
}

func TestRegistry_Dispatch_FailClosedErrorRejects(t *testing.T) {
	r := NewRegistry(nil)

	hookErr := errors.New("scanner unavailable")
	var secondCalled bool

	r.Register(BeforeOutbound, FailClosed, func(ctx context.Context, e *Event) (Outcome, error) {
		return Outcome{}, hookErr
	}, WithPriority(PriorityHigh))

	r.Register(BeforeOutbound, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		secondCalled = true
		return ContinueWith(nil), nil
	}, WithPriority(PriorityLow))

	event := NewEvent(BeforeOutbound, nil)
	_, err := r.Dispatch(context.Background(), event)

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *RejectedError from fail-closed handler error, got %v", err)
	}
	if !errors.Is(err, hookErr) {
		t.Error("expected RejectedError to wrap the underlying hook error")
	}
	if secondCalled {
		t.Error("fail-closed error should short-circuit dispatch")
	}
}

func TestRegistry_Dispatch_FailOpenErrorContinues(t *testing.T) {
	r := NewRegistry(nil)

	var secondCalled bool

	r.Register(BeforeOutbound, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return Outcome{}, errors.New("audit log unavailable")
	}, WithPriority(PriorityHigh))

	r.Register(BeforeOutbound, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		secondCalled = true
		return ContinueWith(nil), nil
	}, WithPriority(PriorityLow))

	event := NewEvent(BeforeOutbound, nil)
	_, err := r.Dispatch(context.Background(), event)

	if err != nil {
		t.Errorf("fail-open handler error should not fail dispatch, got %v", err)
	}
	if !secondCalled {
		t.Error("second handler should still run after a fail-open handler errors")
	}
}

func TestRegistry_PanicRecovery(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(BeforeOutbound, FailClosed, func(ctx context.Context, e *Event) (Outcome, error) {
		panic("test panic")
	}, WithPriority(PriorityHigh))

	event := NewEvent(BeforeOutbound, nil)
	_, err := r.Dispatch(context.Background(), event)

	if err == nil {
		t.Error("expected error recovered from panic")
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return ContinueWith(nil), nil
	})
	r.Register(BeforeOutbound, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return ContinueWith(nil), nil
	})

	r.Clear()

	if len(r.RegisteredPoints()) != 0 {
		t.Errorf("expected 0 registered points after clear, got %d", len(r.RegisteredPoints()))
	}
}

func TestRegistry_ListRegistrations(t *testing.T) {
	r := NewRegistry(nil)

	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return ContinueWith(nil), nil
	}, WithName("first"), WithPriority(PriorityHigh))
	r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return ContinueWith(nil), nil
	}, WithName("second"), WithPriority(PriorityLow))

	regs := r.ListRegistrations(BeforeToolCall)
	if len(regs) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(regs))
	}
	if regs[0].Name != "first" || regs[1].Name != "second" {
		t.Errorf("expected priority order [first, second], got [%s, %s]", regs[0].Name, regs[1].Name)
	}
}

func TestRegistry_GetRegistration(t *testing.T) {
	r := NewRegistry(nil)

	id := r.Register(BeforeToolCall, FailOpen, func(ctx context.Context, e *Event) (Outcome, error) {
		return ContinueWith(nil), nil
	}, WithName("named"))

	reg, ok := r.GetRegistration(id)
	if !ok {
		t.Fatal("expected registration to be found")
	}
	if reg.Name != "named" {
		t.Errorf("expected name 'named', got %q", reg.Name)
	}

	if _, ok := r.GetRegistration("nonexistent"); ok {
		t.Error("expected GetRegistration to return false for unknown ID")
	}
}
