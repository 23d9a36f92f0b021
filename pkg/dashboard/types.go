// Package dashboard assembles flat store rows into the nested run,
// workflow, and project shapes the dashboard consumes, and derives the
// aggregate and comparison views on top of them.
package dashboard

import (
	"encoding/json"
	"time"

	"github.com/evalops/evalboard/pkg/metrics"
)

// Synthetic singleton project attributes. The system models exactly one
// project; it is not stored.
const (
	ProjectID          = 1
	ProjectName        = "LLM Evaluation Dashboard"
	ProjectDescription = "Browse and compare LLM evaluation results across workflows and runs"
)

// Project is the synthetic top-level envelope wrapping all workflows.
type Project struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	WorkflowCount int         `json:"workflowCount"`
	Workflows     []*Workflow `json:"workflows"`
}

// Workflow groups the runs sharing one workflow id. The display name is the
// id with underscores replaced by spaces.
type Workflow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RunCount int    `json:"runCount"`
	Runs     []*Run `json:"runs"`
}

// Run is one formatted evaluation run: its attributes plus the tree of root
// executions.
type Run struct {
	ID            uint         `json:"id"`
	WorkflowID    string       `json:"workflowId"`
	StartTs       *time.Time   `json:"startTs"`
	FinishTs      *time.Time   `json:"finishTs"`
	CreationTs    time.Time    `json:"creationTs"`
	Duration      *string      `json:"duration"`
	Version       string       `json:"version"`
	QuestionCount int          `json:"questionCount"`
	Questions     []*Execution `json:"questions"`
}

// Execution is one formatted question/answer pair. Metrics carries the
// typed metric map folded from the sparse evaluation rows; it is spread as
// sibling top-level properties when marshaled, so a metric named
// outputScore serializes as `"outputScore": {"value": ..., "reason": ...}`.
type Execution struct {
	ID                uint
	RunID             uint
	WorkflowID        string
	SessionID         string
	ParentExecutionID *uint
	Input             string
	ExpectedOutput    string
	Groundtruth       string
	Output            string
	Duration          float64
	TotalTokens       int
	CreationTs        time.Time
	Metrics           map[string]metrics.Metric
	SubExecutions     []*Execution
}

// MarshalJSON spreads the metric map as sibling top-level properties next
// to the execution's own columns. Metric keys that would collide with a
// base property are skipped so the payload stays well formed.
func (e *Execution) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":                e.ID,
		"runId":             e.RunID,
		"workflowId":        e.WorkflowID,
		"sessionId":         e.SessionID,
		"parentExecutionId": e.ParentExecutionID,
		"input":             e.Input,
		"expectedOutput":    e.ExpectedOutput,
		"groundtruth":       e.Groundtruth,
		"output":            e.Output,
		"duration":          e.Duration,
		"totalTokens":       e.TotalTokens,
		"creationTs":        e.CreationTs,
		"subExecutions":     e.SubExecutions,
	}

	for key, metric := range e.Metrics {
		if _, taken := out[key]; taken {
			continue
		}

		out[key] = metric
	}

	return json.Marshal(out)
}

// RunAggregates is the server-side aggregation view over every execution
// of one run, nested executions included.
type RunAggregates struct {
	RunID      uint            `json:"runId"`
	WorkflowID string          `json:"workflowId"`
	Version    string          `json:"version"`
	Summary    metrics.Summary `json:"summary"`
}

// RunComparison holds per-metric deltas between a run and a baseline run.
type RunComparison struct {
	RunID         uint          `json:"runId"`
	BaselineRunID uint          `json:"baselineRunId"`
	Metrics       []MetricDelta `json:"metrics"`
	CombinedDelta *float64      `json:"combinedDelta"`
}

// MetricDelta compares one metric's average across two runs. Current or
// Baseline is nil when the metric only exists on the other run; Delta is
// nil whenever it cannot be computed meaningfully.
type MetricDelta struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Current  *float64 `json:"current"`
	Baseline *float64 `json:"baseline"`
	Delta    *float64 `json:"delta"`
}
