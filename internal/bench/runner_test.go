package bench

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ironclaw/core/internal/agent"
)

// echoProvider replies with task's prompt reversed-free: it just echoes
// "ok" as a final text response, never invoking a tool. Each call counts
// toward LLMCalls so instrumentedProvider's bookkeeping is exercised.
type echoProvider struct {
	calls int32
}

func (p *echoProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	atomic.AddInt32(&p.calls, 1)
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: "ok", Done: true, InputTokens: 10, OutputTokens: 5}
	close(ch)
	return ch, nil
}

func (p *echoProvider) CompleteWithTools(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return p.Complete(ctx, req)
}

func (p *echoProvider) Name() string          { return "echo" }
func (p *echoProvider) Models() []agent.Model { return nil }
func (p *echoProvider) SupportsTools() bool   { return true }

// stringMatchSuite scores 1.0/passed when the response contains the task's
// expected substring (kept in Task.Meta["want"]), 0.0/failed otherwise.
type stringMatchSuite struct {
	id    string
	tasks []Task
}

func (s *stringMatchSuite) ID() string { return s.id }

func (s *stringMatchSuite) Tasks(ctx context.Context) ([]Task, error) { return s.tasks, nil }

func (s *stringMatchSuite) Tools(ctx context.Context, task Task) (*agent.ToolRegistry, error) {
	return agent.NewToolRegistry(), nil
}

func (s *stringMatchSuite) SetupTask(ctx context.Context, task Task) error { return nil }
func (s *stringMatchSuite) TeardownTask(ctx context.Context, task Task)    {}

func (s *stringMatchSuite) Score(ctx context.Context, task Task, submission Submission) (Score, error) {
	want := task.Meta["want"]
	if strings.Contains(submission.Response, want) {
		return Score{Passed: true, Value: 1}, nil
	}
	return Score{Passed: false, Value: 0, Reason: "substring not found"}, nil
}

func newTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{ID: taskID(i), SuiteID: "strmatch", Prompt: "say ok", Meta: map[string]string{"want": "ok"}}
	}
	return tasks
}

func taskID(i int) string {
	return "task-" + string(rune('a'+i))
}

func TestRunner_RunsAllTasksAndScores(t *testing.T) {
	dir := t.TempDir()
	suite := &stringMatchSuite{id: "strmatch", tasks: newTasks(5)}
	provider := &echoProvider{}
	entry := MatrixEntry{Label: "test-config", Provider: provider, LoopConfig: agent.DefaultLoopConfig()}

	runner := NewRunner(suite, entry, RunnerConfig{Parallelism: 3, ResultsDir: dir})
	summary, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TaskCount != 5 {
		t.Errorf("TaskCount = %d, want 5", summary.TaskCount)
	}
	if summary.PassRate != 1 {
		t.Errorf("PassRate = %v, want 1", summary.PassRate)
	}
	if summary.AvgScore != 1 {
		t.Errorf("AvgScore = %v, want 1", summary.AvgScore)
	}

	if _, err := os.Stat(filepath.Join(dir, summary.RunID, "tasks.jsonl")); err != nil {
		t.Errorf("tasks.jsonl not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, summary.RunID, "run.json")); err != nil {
		t.Errorf("run.json not written: %v", err)
	}
}

func TestRunner_ResumeSkipsCompletedTasks(t *testing.T) {
	dir := t.TempDir()
	tasks := newTasks(4)
	suite := &stringMatchSuite{id: "strmatch", tasks: tasks}
	provider := &echoProvider{}
	entry := MatrixEntry{Label: "resume-config", Provider: provider, LoopConfig: agent.DefaultLoopConfig()}

	runID := "fixed-run"
	runner := NewRunner(suite, entry, RunnerConfig{Parallelism: 1, ResultsDir: dir})
	if _, err := runner.Run(context.Background(), RunOptions{ResumeRunID: runID}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstCalls := atomic.LoadInt32(&provider.calls)
	if firstCalls != int32(len(tasks)) {
		t.Fatalf("expected %d provider calls on first run, got %d", len(tasks), firstCalls)
	}

	// Resuming the same run ID with the same (already fully scored) tasks
	// should not invoke the provider again for any of them.
	if _, err := runner.Run(context.Background(), RunOptions{ResumeRunID: runID}); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if atomic.LoadInt32(&provider.calls) != firstCalls {
		t.Errorf("resume re-ran completed tasks: calls went from %d to %d", firstCalls, provider.calls)
	}
}

func TestRunner_TaskIDFilterRestrictsRun(t *testing.T) {
	dir := t.TempDir()
	suite := &stringMatchSuite{id: "strmatch", tasks: newTasks(5)}
	provider := &echoProvider{}
	entry := MatrixEntry{Label: "filtered", Provider: provider, LoopConfig: agent.DefaultLoopConfig()}

	runner := NewRunner(suite, entry, RunnerConfig{Parallelism: 2, ResultsDir: dir})
	summary, err := runner.Run(context.Background(), RunOptions{TaskIDs: []string{taskID(0), taskID(2)}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TaskCount != 2 {
		t.Fatalf("TaskCount = %d, want 2", summary.TaskCount)
	}
}

func TestRunner_SampleTruncates(t *testing.T) {
	dir := t.TempDir()
	suite := &stringMatchSuite{id: "strmatch", tasks: newTasks(5)}
	provider := &echoProvider{}
	entry := MatrixEntry{Label: "sampled", Provider: provider, LoopConfig: agent.DefaultLoopConfig()}

	runner := NewRunner(suite, entry, RunnerConfig{Parallelism: 2, ResultsDir: dir})
	summary, err := runner.Run(context.Background(), RunOptions{Sample: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TaskCount != 2 {
		t.Fatalf("TaskCount = %d, want 2", summary.TaskCount)
	}
}

func TestRunner_SetupFailureProducesErrorResult(t *testing.T) {
	dir := t.TempDir()
	suite := &failingSetupSuite{stringMatchSuite: stringMatchSuite{id: "strmatch", tasks: newTasks(1)}}
	provider := &echoProvider{}
	entry := MatrixEntry{Label: "setup-fail", Provider: provider, LoopConfig: agent.DefaultLoopConfig()}

	runner := NewRunner(suite, entry, RunnerConfig{Parallelism: 1, ResultsDir: dir})
	summary, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", summary.TotalErrors)
	}
}

type failingSetupSuite struct {
	stringMatchSuite
}

func (s *failingSetupSuite) SetupTask(ctx context.Context, task Task) error {
	return errTestSetup
}

var errTestSetup = &setupError{}

type setupError struct{}

func (*setupError) Error() string { return "setup always fails" }
