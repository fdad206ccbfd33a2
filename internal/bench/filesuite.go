package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ironclaw/core/internal/agent"
)

// FileTaskSpec is one task's on-disk definition within a FileSuite's task
// file: a prompt plus the scoring criteria to grade a submission against.
// No tool access is granted - FileSuite exists to drive plain prompt/
// response benchmarks without requiring a bespoke Suite implementation per
// evaluation set.
type FileTaskSpec struct {
	ID             string            `json:"id"`
	Prompt         string            `json:"prompt"`
	System         string            `json:"system,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`

	// ExpectSubstring, if set, must appear in the response for the task to
	// pass. ExpectAllOf requires every listed substring to appear.
	ExpectSubstring string   `json:"expect_substring,omitempty"`
	ExpectAllOf     []string `json:"expect_all_of,omitempty"`
}

// FileSuite is a Suite backed by a JSON file of FileTaskSpecs, scored by
// substring matching against the final response. It grants no tools unless
// WithTools has attached some (typically sandboxed WASM tools loaded from
// config.SandboxConfig.Tools) — every task in the suite shares the same
// tool set.
type FileSuite struct {
	id         string
	tasks      []Task
	specs      map[string]FileTaskSpec
	extraTools []agent.Tool
}

// WithTools attaches tools every task in the suite is given access to,
// returning s for chaining. Intended for sandboxed tools built at startup
// from the process's sandbox configuration.
func (s *FileSuite) WithTools(tools ...agent.Tool) *FileSuite {
	s.extraTools = append(s.extraTools, tools...)
	return s
}

// LoadFileSuite reads a JSON array of FileTaskSpecs from path and builds a
// FileSuite identified by id.
func LoadFileSuite(id, path string) (*FileSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite file: %w", err)
	}

	var specs []FileTaskSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse suite file: %w", err)
	}

	suite := &FileSuite{id: id, specs: make(map[string]FileTaskSpec, len(specs))}
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("task missing id in %s", path)
		}
		if _, dup := suite.specs[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q in %s", spec.ID, path)
		}
		suite.specs[spec.ID] = spec
		task := Task{
			ID:      spec.ID,
			SuiteID: id,
			Prompt:  spec.Prompt,
			System:  spec.System,
			Tags:    spec.Tags,
			Meta:    spec.Meta,
		}
		if spec.TimeoutSeconds > 0 {
			task.Timeout = time.Duration(spec.TimeoutSeconds) * time.Second
		}
		suite.tasks = append(suite.tasks, task)
	}
	return suite, nil
}

func (s *FileSuite) ID() string { return s.id }

func (s *FileSuite) Tasks(ctx context.Context) ([]Task, error) { return s.tasks, nil }

func (s *FileSuite) Tools(ctx context.Context, task Task) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry()
	for _, t := range s.extraTools {
		registry.Register(t)
	}
	return registry, nil
}

func (s *FileSuite) SetupTask(ctx context.Context, task Task) error { return nil }

func (s *FileSuite) TeardownTask(ctx context.Context, task Task) {}

func (s *FileSuite) Score(ctx context.Context, task Task, submission Submission) (Score, error) {
	spec, ok := s.specs[task.ID]
	if !ok {
		return Score{}, fmt.Errorf("unknown task %q", task.ID)
	}

	var missing []string
	expect := spec.ExpectAllOf
	if spec.ExpectSubstring != "" {
		expect = append(expect, spec.ExpectSubstring)
	}
	for _, want := range expect {
		if !strings.Contains(submission.Response, want) {
			missing = append(missing, want)
		}
	}

	if len(missing) == 0 {
		return Score{Passed: true, Value: 1}, nil
	}
	denom := len(expect)
	if denom == 0 {
		denom = 1
	}
	return Score{
		Passed: false,
		Value:  1 - float64(len(missing))/float64(denom),
		Reason: fmt.Sprintf("missing expected substrings: %v", missing),
	}, nil
}
