package agent

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestTraceWriter_WritesJSONLEntries(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)

	tw.Write(TraceEntry{Name: "search", DurationMS: 120, Success: true})
	tw.Write(TraceEntry{Name: "shell", DurationMS: 40, Success: false})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first struct {
		Name    string `json:"name"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Name != "search" || !first.Success {
		t.Errorf("got %+v", first)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tw.Write(TraceEntry{Name: "tool", DurationMS: int64(n), Success: true})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	for _, l := range lines {
		var e TraceEntry
		if err := json.Unmarshal([]byte(l), &e); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", l, err)
		}
	}
}

func TestTraceWriter_Close_NoCloserIsNoop(t *testing.T) {
	var buf bytes.Buffer
	tw := NewTraceWriter(&buf)
	if err := tw.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
