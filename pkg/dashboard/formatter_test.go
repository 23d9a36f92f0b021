package dashboard_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/dashboard"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}

	return t
}

func TestFormatRun_Hierarchy(t *testing.T) {
	parent := uint(1)

	run := &store.TestRun{ID: 10, WorkflowID: "rag_pipeline"}
	executions := []store.TestExecution{
		{ID: 1, RunID: 10, WorkflowID: "rag_pipeline"},
		{ID: 2, RunID: 10, WorkflowID: "rag_pipeline", ParentExecutionID: &parent},
	}

	formatted := dashboard.FormatRun(run, executions, nil)

	// One root with one nested sub-execution; the child does not count as
	// a question.
	require.Len(t, formatted.Questions, 1)
	assert.Equal(t, uint(1), formatted.Questions[0].ID)
	require.Len(t, formatted.Questions[0].SubExecutions, 1)
	assert.Equal(t, uint(2), formatted.Questions[0].SubExecutions[0].ID)
	assert.Equal(t, 1, formatted.QuestionCount)
}

func TestFormatRun_OrphanedChildDropped(t *testing.T) {
	missingParent := uint(99)

	run := &store.TestRun{ID: 11, WorkflowID: "wf"}
	executions := []store.TestExecution{
		{ID: 1, RunID: 11},
		{ID: 2, RunID: 11, ParentExecutionID: &missingParent},
	}

	formatted := dashboard.FormatRun(run, executions, nil)

	// The orphan is neither promoted to root nor attached anywhere.
	require.Len(t, formatted.Questions, 1)
	assert.Equal(t, uint(1), formatted.Questions[0].ID)
	assert.Empty(t, formatted.Questions[0].SubExecutions)
	assert.Equal(t, 1, formatted.QuestionCount)
}

func TestFormatRun_FoldsEvaluations(t *testing.T) {
	run := &store.TestRun{ID: 12, WorkflowID: "wf"}
	executions := []store.TestExecution{{ID: 1, RunID: 12}}
	evaluations := []store.Evaluation{
		{TestExecutionID: 1, MetricName: "output_score", MetricValue: 0.8,
			MetricReason: "solid answer"},
		{TestExecutionID: 1, MetricName: "faithfulness", MetricValue: 0.6},
	}

	formatted := dashboard.FormatRun(run, executions, evaluations)

	m := formatted.Questions[0].Metrics
	require.Len(t, m, 2)

	// Metric names camelCase on fold.
	assert.InDelta(t, 0.8, m["outputScore"].Value, 1e-9)
	assert.Equal(t, "solid answer", m["outputScore"].Reason)

	// Missing reason folds to empty string, never absent.
	assert.InDelta(t, 0.6, m["faithfulness"].Value, 1e-9)
	assert.Empty(t, m["faithfulness"].Reason)
}

func TestFormatRun_ReservedMetricNamesExcluded(t *testing.T) {
	run := &store.TestRun{ID: 13, WorkflowID: "wf"}
	executions := []store.TestExecution{
		{ID: 1, RunID: 13, Duration: 4.2, TotalTokens: 1200},
	}
	evaluations := []store.Evaluation{
		{TestExecutionID: 1, MetricName: "duration", MetricValue: 99},
		{TestExecutionID: 1, MetricName: "totalTokens", MetricValue: 99},
		{TestExecutionID: 1, MetricName: "total_tokens", MetricValue: 99},
		{TestExecutionID: 1, MetricName: "outputScore", MetricValue: 0.9},
	}

	formatted := dashboard.FormatRun(run, executions, evaluations)

	execution := formatted.Questions[0]
	require.Len(t, execution.Metrics, 1)
	assert.Contains(t, execution.Metrics, "outputScore")

	// The reserved values surface only through the dedicated columns.
	assert.InDelta(t, 4.2, execution.Duration, 1e-9)
	assert.Equal(t, 1200, execution.TotalTokens)
}

func TestFormatRun_DurationAndVersion(t *testing.T) {
	start := ts("2026-08-01T10:00:00Z")
	finish := ts("2026-08-01T10:02:35Z")

	tests := []struct {
		name         string
		run          store.TestRun
		wantDuration *string
	}{
		{
			name: "finished run",
			run: store.TestRun{
				ID: 7, WorkflowID: "wf", StartTs: &start, FinishTs: &finish,
			},
			wantDuration: strPtr("02:35"),
		},
		{
			name:         "still running",
			run:          store.TestRun{ID: 8, WorkflowID: "wf", StartTs: &start},
			wantDuration: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatted := dashboard.FormatRun(&tt.run, nil, nil)

			if tt.wantDuration == nil {
				assert.Nil(t, formatted.Duration)
			} else {
				require.NotNil(t, formatted.Duration)
				assert.Equal(t, *tt.wantDuration, *formatted.Duration)
			}

			assert.Equal(t, "run_"+itoa(tt.run.ID), formatted.Version)
		})
	}
}

func TestExecution_MarshalSpreadsMetrics(t *testing.T) {
	run := &store.TestRun{ID: 14, WorkflowID: "wf"}
	executions := []store.TestExecution{{ID: 1, RunID: 14, Input: "q?"}}
	evaluations := []store.Evaluation{
		{TestExecutionID: 1, MetricName: "output_score", MetricValue: 0.8},
	}

	formatted := dashboard.FormatRun(run, executions, evaluations)

	data, err := json.Marshal(formatted.Questions[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	// The metric appears as a sibling top-level property.
	metric, ok := decoded["outputScore"].(map[string]any)
	require.True(t, ok, "outputScore must be a top-level object")
	assert.InDelta(t, 0.8, metric["value"].(float64), 1e-9)
	assert.Equal(t, "", metric["reason"])

	assert.Equal(t, "q?", decoded["input"])
}

func strPtr(s string) *string {
	return &s
}

func itoa(v uint) string {
	data, _ := json.Marshal(v)

	return string(data)
}
