package dashboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/config"
	"github.com/evalops/evalboard/pkg/dashboard"
)

func setupService(t *testing.T) (*dashboard.Service, store.Store) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, cfg)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	return dashboard.NewService(log, st), st
}

func seedRun(
	t *testing.T, st store.Store, workflowID string,
	executions []store.NewExecution,
) *store.TestRun {
	t.Helper()

	start := time.Now().UTC().Add(-time.Minute)
	finish := time.Now().UTC()

	run, err := st.CreateRun(context.Background(), &store.NewRun{
		WorkflowID: workflowID,
		StartTs:    &start,
		FinishTs:   &finish,
		Executions: executions,
	})
	require.NoError(t, err)

	return run
}

func TestService_ProjectEnvelope(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	seedRun(t, st, "rag_pipeline", []store.NewExecution{
		{Input: "q1", Evaluations: []store.NewEvaluation{
			{MetricName: "output_score", MetricValue: 0.8},
		}},
	})
	seedRun(t, st, "agent_chat", []store.NewExecution{{Input: "q2"}})

	project, err := svc.Project(ctx)
	require.NoError(t, err)

	assert.Equal(t, dashboard.ProjectID, project.ID)
	assert.Equal(t, dashboard.ProjectName, project.Name)
	assert.Equal(t, 2, project.WorkflowCount)
	require.Len(t, project.Workflows, 2)

	// Workflows ordered alphabetically, names with underscores replaced.
	assert.Equal(t, "agent_chat", project.Workflows[0].ID)
	assert.Equal(t, "agent chat", project.Workflows[0].Name)
	assert.Equal(t, "rag pipeline", project.Workflows[1].Name)
	assert.Equal(t, 1, project.Workflows[1].RunCount)
}

func TestService_RunWithNestedExecutions(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	parentIdx := 0
	output := "the answer"

	created := seedRun(t, st, "wf", []store.NewExecution{
		{
			SessionID: "s1", Input: "root question", Output: &output,
			Duration: 1.5, TotalTokens: 300,
			Evaluations: []store.NewEvaluation{
				{MetricName: "output_score", MetricValue: 0.8,
					MetricReason: "good"},
			},
		},
		{SessionID: "s1", ParentIndex: &parentIdx, Input: "sub step"},
	})

	run, err := svc.Run(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, run.QuestionCount)
	require.Len(t, run.Questions, 1)

	root := run.Questions[0]
	assert.Equal(t, "the answer", root.Output)
	require.Len(t, root.SubExecutions, 1)
	assert.Equal(t, "sub step", root.SubExecutions[0].Input)

	require.Contains(t, root.Metrics, "outputScore")
	assert.InDelta(t, 0.8, root.Metrics["outputScore"].Value, 1e-9)
	assert.Equal(t, "good", root.Metrics["outputScore"].Reason)

	require.NotNil(t, run.Duration)
	assert.Equal(t, "01:00", *run.Duration)
}

func TestService_RunNotFound(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Run(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestService_AggregatesAcrossExecutions(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	// Two root executions; only the first carries output_score, so the
	// average divides by the total count.
	created := seedRun(t, st, "wf", []store.NewExecution{
		{Input: "q1", Evaluations: []store.NewEvaluation{
			{MetricName: "output_score", MetricValue: 0.9},
		}},
		{Input: "q2"},
	})

	aggregates, err := svc.Aggregates(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, aggregates.Summary.Count)
	require.Len(t, aggregates.Summary.Scores, 1)
	assert.Equal(t, "outputScore", aggregates.Summary.Scores[0].Key)
	assert.InDelta(t, 0.45, aggregates.Summary.Scores[0].Average, 1e-9)
}

func TestService_Compare(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	baseline := seedRun(t, st, "wf", []store.NewExecution{
		{Input: "q", Evaluations: []store.NewEvaluation{
			{MetricName: "output_score", MetricValue: 0.6},
		}},
	})
	current := seedRun(t, st, "wf", []store.NewExecution{
		{Input: "q", Evaluations: []store.NewEvaluation{
			{MetricName: "output_score", MetricValue: 0.9},
			{MetricName: "faithfulness", MetricValue: 0.7},
		}},
	})

	comparison, err := svc.Compare(ctx, current.ID, baseline.ID)
	require.NoError(t, err)

	require.Len(t, comparison.Metrics, 2)

	// faithfulness exists only on the current run: no delta.
	faithfulness := comparison.Metrics[0]
	assert.Equal(t, "faithfulness", faithfulness.Key)
	require.NotNil(t, faithfulness.Current)
	assert.Nil(t, faithfulness.Baseline)
	assert.Nil(t, faithfulness.Delta)

	outputScore := comparison.Metrics[1]
	assert.Equal(t, "outputScore", outputScore.Key)
	require.NotNil(t, outputScore.Delta)
	assert.InDelta(t, 50.0, *outputScore.Delta, 1e-9)
}
