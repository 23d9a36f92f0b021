package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/metrics"
)

// Service builds the dashboard views from the store.
type Service struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewService creates a dashboard service on top of a store.
func NewService(log logrus.FieldLogger, st store.Store) *Service {
	return &Service{
		log:   log.WithField("component", "dashboard"),
		store: st,
	}
}

// Run returns one fully formatted run. The wrapped error satisfies
// store.IsNotFound when the run does not exist.
func (s *Service) Run(ctx context.Context, id uint) (*Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.format(ctx, run)
}

// RunsForWorkflow returns all runs of a workflow, fully formatted, ordered
// by start timestamp ascending.
func (s *Service) RunsForWorkflow(
	ctx context.Context, workflowID string,
) ([]*Run, error) {
	rows, err := s.store.ListRunsByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(rows))

	for i := range rows {
		formatted, err := s.format(ctx, &rows[i])
		if err != nil {
			return nil, err
		}

		runs = append(runs, formatted)
	}

	return runs, nil
}

// Project builds the singleton project envelope: every workflow with its
// formatted runs, workflows ordered alphabetically by id.
func (s *Service) Project(ctx context.Context) (*Project, error) {
	workflowIDs, err := s.store.ListWorkflowIDs(ctx)
	if err != nil {
		return nil, err
	}

	workflows := make([]*Workflow, 0, len(workflowIDs))

	for _, workflowID := range workflowIDs {
		runs, err := s.RunsForWorkflow(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, &Workflow{
			ID:       workflowID,
			Name:     strings.ReplaceAll(workflowID, "_", " "),
			RunCount: len(runs),
			Runs:     runs,
		})
	}

	return &Project{
		ID:            ProjectID,
		Name:          ProjectName,
		Description:   ProjectDescription,
		WorkflowCount: len(workflows),
		Workflows:     workflows,
	}, nil
}

// Aggregates computes per-metric averages over every execution of a run,
// nested executions included.
func (s *Service) Aggregates(
	ctx context.Context, runID uint,
) (*RunAggregates, error) {
	run, err := s.Run(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &RunAggregates{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Version:    run.Version,
		Summary:    metrics.Aggregate(flattenExecutions(run.Questions)),
	}, nil
}

// Compare computes per-metric percent deltas between a run and a baseline
// run, using each run's aggregate averages.
func (s *Service) Compare(
	ctx context.Context, runID, baselineID uint,
) (*RunComparison, error) {
	current, err := s.Aggregates(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("aggregating run %d: %w", runID, err)
	}

	baseline, err := s.Aggregates(ctx, baselineID)
	if err != nil {
		return nil, fmt.Errorf("aggregating baseline run %d: %w", baselineID, err)
	}

	currentByKey := averagesByKey(current.Summary)
	baselineByKey := averagesByKey(baseline.Summary)

	keys := make([]string, 0, len(currentByKey)+len(baselineByKey))
	seen := make(map[string]struct{})

	for key := range currentByKey {
		keys = append(keys, key)
		seen[key] = struct{}{}
	}

	for key := range baselineByKey {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	deltas := make([]MetricDelta, 0, len(keys))

	for _, key := range keys {
		d := MetricDelta{
			Key:   key,
			Label: metrics.FormatFieldName(key),
		}

		if avg, ok := currentByKey[key]; ok {
			v := avg
			d.Current = &v
		}

		if avg, ok := baselineByKey[key]; ok {
			v := avg
			d.Baseline = &v
		}

		if d.Current != nil && d.Baseline != nil {
			d.Delta = metrics.Delta(*d.Current, *d.Baseline)
		}

		deltas = append(deltas, d)
	}

	comparison := &RunComparison{
		RunID:         runID,
		BaselineRunID: baselineID,
		Metrics:       deltas,
	}

	if current.Summary.Combined != nil && baseline.Summary.Combined != nil {
		comparison.CombinedDelta = metrics.Delta(
			*current.Summary.Combined, *baseline.Summary.Combined,
		)
	}

	return comparison, nil
}

// format fetches a run's executions and evaluations and assembles the
// nested shape. The evaluation fetch is a single IN query over all
// execution ids of the run.
func (s *Service) format(
	ctx context.Context, run *store.TestRun,
) (*Run, error) {
	executions, err := s.store.ListExecutions(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	executionIDs := make([]uint, 0, len(executions))
	for i := range executions {
		executionIDs = append(executionIDs, executions[i].ID)
	}

	evaluations, err := s.store.ListEvaluations(ctx, executionIDs)
	if err != nil {
		return nil, err
	}

	return FormatRun(run, executions, evaluations), nil
}

// averagesByKey flattens a summary into a key -> average lookup.
func averagesByKey(summary metrics.Summary) map[string]float64 {
	byKey := make(map[string]float64, len(summary.Scores))

	for _, score := range summary.Scores {
		byKey[score.Key] = score.Average
	}

	return byKey
}
