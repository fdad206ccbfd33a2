// Package bench implements the benchmark runner: it drives an
// agent.AgenticLoop against many tasks in parallel with bounded
// concurrency, resume-by-run-ID, and scored JSONL/summary output.
package bench

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ironclaw/core/internal/agent"
)

// Task is one benchmark task: a prompt to run through the agentic loop plus
// the tags/timeout/suite metadata needed to filter and score it.
type Task struct {
	ID      string            `json:"id"`
	SuiteID string            `json:"suite_id"`
	Prompt  string            `json:"prompt"`
	System  string            `json:"system,omitempty"`
	Tags    []string          `json:"tags,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Submission is what the agentic loop produced for a task, handed to
// Suite.Score for grading.
type Submission struct {
	Response  string             `json:"response"`
	ToolCalls []agent.TraceEntry `json:"tool_calls"`
}

// Score is the graded outcome of one task.
type Score struct {
	Passed bool    `json:"passed"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

// Trace captures the resource usage of one task run, independent of its
// score.
type Trace struct {
	WallTimeMS        int64              `json:"wall_time_ms"`
	LLMCalls          int                `json:"llm_calls"`
	InputTokens       int                `json:"input_tokens"`
	OutputTokens      int                `json:"output_tokens"`
	EstimatedCostUSD  float64            `json:"estimated_cost_usd"`
	ToolCalls         []agent.TraceEntry `json:"tool_calls"`
	Turns             int                `json:"turns"`
	HitIterationLimit bool               `json:"hit_iteration_limit"`
	TimedOut          bool               `json:"timed_out"`
}

// TaskResult is one line of results/<run_id>/tasks.jsonl.
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	SuiteID     string    `json:"suite_id"`
	ConfigLabel string    `json:"config_label,omitempty"`
	Score       *Score    `json:"score"`
	ScoreStatus string    `json:"score_status"`
	Trace       Trace     `json:"trace"`
	Response    string    `json:"response"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Error       string    `json:"error,omitempty"`
}

// pendingScoreStatus / scoredStatus mark whether TaskResult.Score has been
// filled in by Suite.Score yet.
const (
	scoreStatusPending = "pending"
	scoreStatusScored  = "scored"
	scoreStatusError   = "error"
)

// RunResult is the aggregate summary written to results/<run_id>/run.json.
// TotalTimeouts/TotalErrors extend spec.md's required pass-rate/avg-score/
// total-cost fields with the teacher's ExecutorMetrics-style failure
// counters, carried over because they fall out of the same per-task loop
// that computes the required fields.
type RunResult struct {
	RunID         string    `json:"run_id"`
	ConfigLabel   string    `json:"config_label,omitempty"`
	TaskCount     int       `json:"task_count"`
	PassRate      float64   `json:"pass_rate"`
	AvgScore      float64   `json:"avg_score"`
	TotalCostUSD  float64   `json:"total_cost_usd"`
	TotalTimeouts int       `json:"total_timeouts"`
	TotalErrors   int       `json:"total_errors"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	TasksJSONLRef string    `json:"tasks_jsonl_ref"`
}

// Suite supplies the tasks and grading logic a Runner drives. Setup/Teardown
// bracket each task's execution so a suite can provision and clean up
// task-scoped resources (e.g. a scratch workspace directory).
type Suite interface {
	ID() string
	Tasks(ctx context.Context) ([]Task, error)
	Tools(ctx context.Context, task Task) (*agent.ToolRegistry, error)
	SetupTask(ctx context.Context, task Task) error
	TeardownTask(ctx context.Context, task Task)
	Score(ctx context.Context, task Task, submission Submission) (Score, error)
}

// MatrixEntry names one (provider, model, suite) combination a Runner can
// execute, plus the loop bounds to apply.
type MatrixEntry struct {
	Label      string
	Provider   agent.LLMProvider
	Model      string
	LoopConfig agent.LoopConfig
}

// marshalResult is a small helper kept alongside the types it serializes,
// matching the teacher's co-located (de)serialization helper convention.
func marshalResult(v any) ([]byte, error) {
	return json.Marshal(v)
}
