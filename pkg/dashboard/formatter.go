package dashboard

import (
	"fmt"
	"strings"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/metrics"
)

// FormatRun assembles flat store rows into the nested run shape: sparse
// evaluation rows fold into each execution's typed metric map, and the
// parent/child relation becomes a subExecutions tree. The executions slice
// must already be ordered by creation timestamp ascending; that order is
// the default display order.
func FormatRun(
	run *store.TestRun,
	executions []store.TestExecution,
	evaluations []store.Evaluation,
) *Run {
	metricsByExecution := foldEvaluations(evaluations)

	// One pass to build all nodes, indexed by id.
	nodes := make([]*Execution, 0, len(executions))
	byID := make(map[uint]*Execution, len(executions))

	for i := range executions {
		row := &executions[i]

		output := ""
		if row.Response != nil {
			output = row.Response.ActualOutput
		}

		metricMap := metricsByExecution[row.ID]
		if metricMap == nil {
			metricMap = map[string]metrics.Metric{}
		}

		node := &Execution{
			ID:                row.ID,
			RunID:             row.RunID,
			WorkflowID:        row.WorkflowID,
			SessionID:         row.SessionID,
			ParentExecutionID: row.ParentExecutionID,
			Input:             row.Input,
			ExpectedOutput:    row.ExpectedOutput,
			Groundtruth:       row.Groundtruth,
			Output:            output,
			Duration:          row.Duration,
			TotalTokens:       row.TotalTokens,
			CreationTs:        row.CreationTs,
			Metrics:           metricMap,
			SubExecutions:     []*Execution{},
		}

		nodes = append(nodes, node)
		byID[row.ID] = node
	}

	// Attach children to parents. An execution referencing a parent that
	// is not part of this run cannot legitimately occur; such orphans are
	// dropped from the tree rather than promoted to root.
	roots := make([]*Execution, 0, len(nodes))

	for _, node := range nodes {
		if node.ParentExecutionID == nil {
			roots = append(roots, node)

			continue
		}

		if parent, ok := byID[*node.ParentExecutionID]; ok {
			parent.SubExecutions = append(parent.SubExecutions, node)
		}
	}

	return &Run{
		ID:            run.ID,
		WorkflowID:    run.WorkflowID,
		StartTs:       run.StartTs,
		FinishTs:      run.FinishTs,
		CreationTs:    run.CreationTs,
		Duration:      runDuration(run),
		Version:       fmt.Sprintf("run_%d", run.ID),
		QuestionCount: len(roots),
		Questions:     roots,
	}
}

// foldEvaluations converts sparse evaluation rows into per-execution typed
// metric maps keyed by the camelCased metric name. The reserved duration
// and totalTokens names are excluded: those values surface through the
// dedicated execution columns and would otherwise be double-counted.
func foldEvaluations(
	evaluations []store.Evaluation,
) map[uint]map[string]metrics.Metric {
	folded := make(map[uint]map[string]metrics.Metric)

	for i := range evaluations {
		row := &evaluations[i]

		key := metricKey(row.MetricName)
		if key == store.ReservedMetricDuration ||
			key == store.ReservedMetricTotalTokens {
			continue
		}

		m, ok := folded[row.TestExecutionID]
		if !ok {
			m = make(map[string]metrics.Metric)
			folded[row.TestExecutionID] = m
		}

		m[key] = metrics.Metric{
			Value:  row.MetricValue,
			Reason: row.MetricReason,
		}
	}

	return folded
}

// metricKey camelCases a metric name, so output_score and outputScore fold
// onto the same key.
func metricKey(name string) string {
	if !strings.ContainsAny(name, "_- ") {
		return name
	}

	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})

	if len(parts) == 0 {
		return name
	}

	var b strings.Builder

	b.WriteString(strings.ToLower(parts[0]))

	for _, part := range parts[1:] {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(strings.ToLower(part[1:]))
	}

	return b.String()
}

// runDuration renders the run's wall time as "MM:SS", or nil while the run
// is unfinished.
func runDuration(run *store.TestRun) *string {
	if run.StartTs == nil || run.FinishTs == nil {
		return nil
	}

	seconds := int(run.FinishTs.Sub(*run.StartTs).Seconds())
	if seconds < 0 {
		seconds = 0
	}

	formatted := fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)

	return &formatted
}

// flattenExecutions returns every execution in the tree, depth-first, for
// aggregation over a whole run.
func flattenExecutions(executions []*Execution) []map[string]metrics.Metric {
	var maps []map[string]metrics.Metric

	var walk func(nodes []*Execution)

	walk = func(nodes []*Execution) {
		for _, node := range nodes {
			maps = append(maps, node.Metrics)
			walk(node.SubExecutions)
		}
	}

	walk(executions)

	return maps
}
