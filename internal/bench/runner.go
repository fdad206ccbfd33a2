package bench

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ironclaw/core/internal/agent"
)

// RunnerConfig bounds and configures one Runner.Run call.
type RunnerConfig struct {
	// Parallelism is the maximum number of tasks run at once, and also
	// decides how tasks.jsonl is written: at parallelism <= 1, each result
	// is appended as it completes; above that, results are collected in
	// memory and flushed once after the join barrier to avoid concurrent-
	// append races. Default 1.
	Parallelism int

	// TaskTimeout bounds a task that does not set its own Timeout.
	TaskTimeout time.Duration

	// ResultsDir is the root directory results/<run_id>/ is created under.
	// Default "results".
	ResultsDir string

	// CostRates prices the tokens an instrumented provider counts.
	CostRates CostRates

	Logger *slog.Logger
}

func sanitizeRunnerConfig(cfg RunnerConfig) RunnerConfig {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "bench-runner")
	}
	return cfg
}

// RunOptions narrows which of a suite's tasks a Run call executes, and
// which prior run (if any) it resumes.
type RunOptions struct {
	// ResumeRunID re-runs under a previous run's directory, skipping tasks
	// already scored or errored in its tasks.jsonl. Empty generates a new
	// run ID.
	ResumeRunID string

	// TaskIDs, if non-empty, restricts the run to tasks whose ID is in the
	// set (task_filter: set membership).
	TaskIDs []string

	// Tags, if non-empty, restricts the run to tasks carrying at least one
	// matching tag (tag_filter: any-tag match).
	Tags []string

	// Sample, if > 0, truncates the filtered task list to the first Sample
	// tasks after ID/tag filtering.
	Sample int
}

// Runner drives a Suite's tasks through the agentic loop with bounded
// concurrency, recording a scored TaskResult per task plus a RunResult
// summary.
type Runner struct {
	suite  Suite
	entry  MatrixEntry
	config RunnerConfig
}

// NewRunner builds a Runner that executes suite's tasks against entry's
// provider/model/loop bounds.
func NewRunner(suite Suite, entry MatrixEntry, config RunnerConfig) *Runner {
	return &Runner{suite: suite, entry: entry, config: sanitizeRunnerConfig(config)}
}

// Run executes suite's tasks (after applying opts' filters) against entry,
// resuming opts.ResumeRunID if set, and returns the aggregate summary.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	runID := opts.ResumeRunID
	if runID == "" {
		runID = newRunID(r.entry.Label)
	}

	runDir := filepath.Join(r.config.ResultsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	tasksPath := filepath.Join(runDir, "tasks.jsonl")

	completed, err := loadCompletedResults(tasksPath)
	if err != nil {
		return nil, fmt.Errorf("load existing results: %w", err)
	}

	all, err := r.suite.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load suite tasks: %w", err)
	}
	filtered := applyTaskFilters(all, opts)

	pending := make([]Task, 0, len(filtered))
	for _, t := range filtered {
		if _, ok := completed[t.ID]; ok {
			continue
		}
		pending = append(pending, t)
	}

	startedAt := time.Now()
	r.config.Logger.Info("starting benchmark run",
		"run_id", runID, "suite", r.suite.ID(), "total_tasks", len(filtered),
		"resumed", len(filtered)-len(pending), "pending", len(pending))

	// Phase A: run every pending task in parallel (bounded), producing
	// pending-score TaskResults. Panics inside a task goroutine are
	// recovered and turned into an error result rather than taking down
	// the run.
	ran, err := r.runTasks(ctx, runID, tasksPath, pending)
	if err != nil {
		return nil, err
	}

	// Phase B (join barrier): score everything just run, merge with the
	// previously completed scored/errored results, dedupe by task ID, and
	// rewrite tasks.jsonl with the final set.
	final := make(map[string]TaskResult, len(completed)+len(ran))
	for id, res := range completed {
		final[id] = res
	}
	for _, res := range ran {
		final[res.TaskID] = r.scoreResult(ctx, res)
	}

	if err := writeAllResults(tasksPath, taskOrder(all), final); err != nil {
		return nil, fmt.Errorf("write tasks.jsonl: %w", err)
	}

	summary := summarize(runID, r.entry.Label, final, startedAt, time.Now())
	summary.TasksJSONLRef = tasksPath
	if err := writeRunSummary(filepath.Join(runDir, "run.json"), summary); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}

	return summary, nil
}

// runTasks executes tasks under a semaphore of width config.Parallelism. At
// parallelism <= 1 each result is also appended to tasksPath as it
// completes; above that, results are only ever returned in memory, to be
// flushed once by the caller after the join barrier.
func (r *Runner) runTasks(ctx context.Context, runID, tasksPath string, tasks []Task) ([]TaskResult, error) {
	var appendW *jsonlAppender
	if r.config.Parallelism <= 1 {
		var err error
		appendW, err = newJSONLAppender(tasksPath)
		if err != nil {
			return nil, fmt.Errorf("open tasks.jsonl for append: %w", err)
		}
		defer appendW.Close()
	}

	sem := semaphore.NewWeighted(int64(r.config.Parallelism))
	var (
		mu       sync.Mutex
		results  = make([]TaskResult, 0, len(tasks))
		wg       sync.WaitGroup
		firstErr error
	)

	for _, task := range tasks {
		task := task
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			result := r.runTaskGuarded(ctx, task)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			if appendW != nil {
				if err := appendW.Append(result); err != nil {
					r.config.Logger.Error("failed to append task result", "task_id", task.ID, "error", err)
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// runTaskGuarded recovers a panic inside runTaskIsolated into an error
// result, logged but not fatal to the run, matching the "benchmark task
// panic -> logged, task omitted from run" failure mode except that here it
// is recorded as an error result rather than fully omitted, so a caller can
// still see it happened.
func (r *Runner) runTaskGuarded(ctx context.Context, task Task) (result TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.config.Logger.Error("benchmark task panicked", "task_id", task.ID, "panic", rec)
			result = TaskResult{
				TaskID:      task.ID,
				SuiteID:     task.SuiteID,
				ConfigLabel: r.entry.Label,
				ScoreStatus: scoreStatusError,
				Error:       fmt.Sprintf("panic: %v", rec),
				StartedAt:   time.Now(),
				FinishedAt:  time.Now(),
			}
		}
	}()
	return r.runTaskIsolated(ctx, task)
}

// runTaskIsolated executes one task end-to-end: setup, agentic loop run
// under a per-task timeout, teardown. It leaves ScoreStatus as "pending" on
// success; scoring happens separately in scoreResult after the join
// barrier, per the runner's two-phase contract.
func (r *Runner) runTaskIsolated(ctx context.Context, task Task) TaskResult {
	startedAt := time.Now()
	result := TaskResult{
		TaskID:      task.ID,
		SuiteID:     task.SuiteID,
		ConfigLabel: r.entry.Label,
		ScoreStatus: scoreStatusPending,
		StartedAt:   startedAt,
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = r.config.TaskTimeout
	}
	taskCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := r.suite.SetupTask(taskCtx, task); err != nil {
		result.Error = fmt.Sprintf("setup: %v", err)
		result.ScoreStatus = scoreStatusError
		result.FinishedAt = time.Now()
		return result
	}
	defer r.suite.TeardownTask(context.WithoutCancel(ctx), task)

	registry, err := r.suite.Tools(taskCtx, task)
	if err != nil {
		result.Error = fmt.Sprintf("tools: %v", err)
		result.ScoreStatus = scoreStatusError
		result.FinishedAt = time.Now()
		return result
	}

	instrumented := newInstrumentedProvider(r.entry.Provider, r.config.CostRates)
	loopConfig := r.entry.LoopConfig
	if loopConfig.Model == "" {
		loopConfig.Model = r.entry.Model
	}
	loop := agent.NewAgenticLoop(instrumented, registry, loopConfig)

	loopResult, err := loop.Run(taskCtx, task.System, task.Prompt)

	finishedAt := time.Now()
	calls, inputTokens, outputTokens, costUSD := instrumented.usage()
	trace := Trace{
		WallTimeMS:       finishedAt.Sub(startedAt).Milliseconds(),
		LLMCalls:         calls,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedCostUSD: costUSD,
		TimedOut:         taskCtx.Err() == context.DeadlineExceeded,
	}

	if err != nil {
		result.Error = err.Error()
		result.ScoreStatus = scoreStatusError
		result.Trace = trace
		result.FinishedAt = finishedAt
		return result
	}

	trace.ToolCalls = loopResult.ToolCalls
	trace.Turns = loopResult.Iterations
	trace.HitIterationLimit = loopResult.HitIterationLimit
	result.Response = loopResult.Response
	result.Trace = trace
	result.FinishedAt = finishedAt
	return result
}

// scoreResult runs a completed (non-error) TaskResult through the suite's
// scorer. Results that already failed during setup/run pass through
// unchanged - there is nothing to score.
func (r *Runner) scoreResult(ctx context.Context, result TaskResult) TaskResult {
	if result.ScoreStatus == scoreStatusError {
		return result
	}

	task := Task{ID: result.TaskID, SuiteID: result.SuiteID}
	submission := Submission{Response: result.Response, ToolCalls: result.Trace.ToolCalls}
	score, err := r.suite.Score(ctx, task, submission)
	if err != nil {
		result.Error = fmt.Sprintf("score: %v", err)
		result.ScoreStatus = scoreStatusError
		return result
	}
	result.Score = &score
	result.ScoreStatus = scoreStatusScored
	return result
}

// applyTaskFilters applies task_filter (set membership on ID), then
// tag_filter (any-tag match), then sample (truncate), in that order.
func applyTaskFilters(tasks []Task, opts RunOptions) []Task {
	out := tasks

	if len(opts.TaskIDs) > 0 {
		want := make(map[string]bool, len(opts.TaskIDs))
		for _, id := range opts.TaskIDs {
			want[id] = true
		}
		filtered := out[:0:0]
		for _, t := range out {
			if want[t.ID] {
				filtered = append(filtered, t)
			}
		}
		out = filtered
	}

	if len(opts.Tags) > 0 {
		want := make(map[string]bool, len(opts.Tags))
		for _, tag := range opts.Tags {
			want[tag] = true
		}
		filtered := out[:0:0]
		for _, t := range out {
			for _, tag := range t.Tags {
				if want[tag] {
					filtered = append(filtered, t)
					break
				}
			}
		}
		out = filtered
	}

	if opts.Sample > 0 && opts.Sample < len(out) {
		out = out[:opts.Sample]
	}

	return out
}

func taskOrder(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func summarize(runID, label string, results map[string]TaskResult, startedAt, finishedAt time.Time) *RunResult {
	summary := &RunResult{
		RunID:       runID,
		ConfigLabel: label,
		TaskCount:   len(results),
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}
	if len(results) == 0 {
		return summary
	}

	var passed int
	var scoreSum, costSum float64
	var scored int
	for _, res := range results {
		costSum += res.Trace.EstimatedCostUSD
		if res.Trace.TimedOut {
			summary.TotalTimeouts++
		}
		if res.ScoreStatus == scoreStatusError {
			summary.TotalErrors++
		}
		if res.Score == nil {
			continue
		}
		scored++
		scoreSum += res.Score.Value
		if res.Score.Passed {
			passed++
		}
	}
	if scored > 0 {
		summary.PassRate = float64(passed) / float64(scored)
		summary.AvgScore = scoreSum / float64(scored)
	}
	summary.TotalCostUSD = costSum
	return summary
}

// loadCompletedResults reads a prior run's tasks.jsonl, if present, keyed by
// task ID, for resume. Only scored or errored entries count as completed;
// a "pending" line left behind by a killed process is retried. A missing
// file is not an error.
func loadCompletedResults(path string) (map[string]TaskResult, error) {
	done := make(map[string]TaskResult)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return done, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var res TaskResult
		if err := json.Unmarshal(line, &res); err != nil {
			return nil, fmt.Errorf("parse existing task result: %w", err)
		}
		if res.ScoreStatus == scoreStatusScored || res.ScoreStatus == scoreStatusError {
			done[res.TaskID] = res
		}
	}
	return done, scanner.Err()
}

// writeAllResults rewrites tasksPath from scratch: one line per result in
// order, ordered tasks first (by the suite's original task order) with any
// remaining results (e.g. from a previous run's now-filtered-out tasks)
// appended afterward, sorted by task ID for determinism.
func writeAllResults(path string, order []string, results map[string]TaskResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	written := make(map[string]bool, len(results))
	writeOne := func(res TaskResult) error {
		line, err := marshalResult(res)
		if err != nil {
			return err
		}
		_, err = w.Write(append(line, '\n'))
		return err
	}

	for _, id := range order {
		res, ok := results[id]
		if !ok {
			continue
		}
		if err := writeOne(res); err != nil {
			return err
		}
		written[id] = true
	}

	leftover := make([]string, 0)
	for id := range results {
		if !written[id] {
			leftover = append(leftover, id)
		}
	}
	sort.Strings(leftover)
	for _, id := range leftover {
		if err := writeOne(results[id]); err != nil {
			return err
		}
	}
	return nil
}

func writeRunSummary(path string, summary *RunResult) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// jsonlAppender serializes concurrent TaskResult writes to one JSONL file,
// each append flushed immediately so a killed process loses at most the
// in-flight task.
type jsonlAppender struct {
	mu sync.Mutex
	f  *os.File
}

func newJSONLAppender(path string) (*jsonlAppender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &jsonlAppender{f: f}, nil
}

func (a *jsonlAppender) Append(result TaskResult) error {
	line, err := marshalResult(result)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	line = append(line, '\n')
	if _, err := a.f.Write(line); err != nil {
		return err
	}
	return a.f.Sync()
}

func (a *jsonlAppender) Close() error {
	return a.f.Close()
}

// newRunID generates a default run ID when the caller doesn't supply one to
// resume. Callers that need a stable, predictable run ID should pass one to
// Run explicitly instead of relying on this.
func newRunID(label string) string {
	if label == "" {
		label = "run"
	}
	return fmt.Sprintf("%s-%s", label, uuid.NewString())
}
