// Package ingest loads evaluation run files from disk into the store.
// It accepts the native run document shape (YAML or JSON) and legacy flat
// record arrays, for which evaluations are synthesized from score-named
// fields.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/metrics"
)

// Loader reads run files and writes them to the store.
type Loader struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewLoader creates a Loader over the given store.
func NewLoader(log logrus.FieldLogger, st store.Store) *Loader {
	return &Loader{
		log:   log.WithField("component", "ingest"),
		store: st,
	}
}

// runDocument is the native file shape: one run with nested executions.
type runDocument struct {
	WorkflowID string              `yaml:"workflow_id" json:"workflow_id"`
	StartTs    *time.Time          `yaml:"start_ts" json:"start_ts"`
	FinishTs   *time.Time          `yaml:"finish_ts" json:"finish_ts"`
	Executions []executionDocument `yaml:"executions" json:"executions"`
}

type executionDocument struct {
	SessionID         string               `yaml:"session_id" json:"session_id"`
	ParentExecutionID *int                 `yaml:"parent_execution_id" json:"parent_execution_id"`
	Input             string               `yaml:"input" json:"input"`
	ExpectedOutput    string               `yaml:"expected_output" json:"expected_output"`
	Groundtruth       string               `yaml:"groundtruth" json:"groundtruth"`
	Duration          float64              `yaml:"duration" json:"duration"`
	TotalTokens       int                  `yaml:"total_tokens" json:"total_tokens"`
	Output            *string              `yaml:"output" json:"output"`
	Evaluations       []evaluationDocument `yaml:"evaluations" json:"evaluations"`
}

type evaluationDocument struct {
	WorkflowID   string `yaml:"workflow_id" json:"workflow_id"`
	MetricName   string `yaml:"metric_name" json:"metric_name"`
	MetricValue  any    `yaml:"metric_value" json:"metric_value"`
	MetricReason string `yaml:"metric_reason" json:"metric_reason"`
}

// LoadDir ingests every .yaml, .yml, and .json file directly under dir,
// in name order. It returns the number of runs created.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	var count int

	for _, name := range names {
		path := filepath.Join(dir, name)

		run, err := l.LoadFile(ctx, path)
		if err != nil {
			return count, fmt.Errorf("ingesting %s: %w", name, err)
		}

		l.log.WithFields(logrus.Fields{
			"file":     name,
			"run_id":   run.ID,
			"workflow": run.WorkflowID,
		}).Info("Ingested run")

		count++
	}

	return count, nil
}

// LoadFile ingests one run file and returns the created run.
func (l *Loader) LoadFile(
	ctx context.Context, path string,
) (*store.TestRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	newRun, err := parseRunFile(path, data)
	if err != nil {
		return nil, err
	}

	run, err := l.store.CreateRun(ctx, newRun)
	if err != nil {
		return nil, fmt.Errorf("storing run: %w", err)
	}

	return run, nil
}

// parseRunFile decodes a run file. A top-level mapping is the native run
// document; a top-level sequence is a legacy flat record array.
func parseRunFile(path string, data []byte) (*store.NewRun, error) {
	var raw any
	if err := unmarshal(path, data, &raw); err != nil {
		return nil, err
	}

	switch raw.(type) {
	case map[string]any:
		var doc runDocument
		if err := unmarshal(path, data, &doc); err != nil {
			return nil, err
		}

		return doc.toNewRun(path)
	case []any:
		var records []map[string]any
		if err := unmarshal(path, data, &records); err != nil {
			return nil, err
		}

		return legacyRecordsToRun(path, records)
	default:
		return nil, fmt.Errorf("%s: expected a run document or a record array", path)
	}
}

// unmarshal decodes by file extension; YAML handles JSON input too, but
// JSON files get the stricter decoder.
func unmarshal(path string, data []byte, out any) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}

		return nil
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

// toNewRun maps the document onto the store write shape.
func (doc *runDocument) toNewRun(path string) (*store.NewRun, error) {
	if doc.WorkflowID == "" {
		return nil, fmt.Errorf("%s: workflow_id is required", path)
	}

	run := &store.NewRun{
		WorkflowID: doc.WorkflowID,
		StartTs:    doc.StartTs,
		FinishTs:   doc.FinishTs,
		Executions: make([]store.NewExecution, 0, len(doc.Executions)),
	}

	for _, e := range doc.Executions {
		execution := store.NewExecution{
			SessionID:      e.SessionID,
			ParentIndex:    e.ParentExecutionID,
			Input:          e.Input,
			ExpectedOutput: e.ExpectedOutput,
			Groundtruth:    e.Groundtruth,
			Duration:       e.Duration,
			TotalTokens:    e.TotalTokens,
			Output:         e.Output,
			Evaluations:    make([]store.NewEvaluation, 0, len(e.Evaluations)),
		}

		for _, ev := range e.Evaluations {
			execution.Evaluations = append(execution.Evaluations,
				store.NewEvaluation{
					WorkflowID:   ev.WorkflowID,
					MetricName:   ev.MetricName,
					MetricValue:  metrics.CoerceFloat(ev.MetricValue),
					MetricReason: ev.MetricReason,
				})
		}

		run.Executions = append(run.Executions, execution)
	}

	return run, nil
}

// legacyRecordsToRun builds a run from an array of flat ad-hoc records.
// Each record becomes one root execution; field classification decides
// which fields are metrics and which are payload.
func legacyRecordsToRun(
	path string, records []map[string]any,
) (*store.NewRun, error) {
	workflowID := ""

	for _, record := range records {
		if id, ok := record["workflow_id"].(string); ok && id != "" {
			workflowID = id

			break
		}
	}

	if workflowID == "" {
		// Fall back to the file basename so ad-hoc exports without a
		// workflow column still land somewhere navigable.
		workflowID = strings.TrimSuffix(
			filepath.Base(path), filepath.Ext(path))
	}

	run := &store.NewRun{
		WorkflowID: workflowID,
		Executions: make([]store.NewExecution, 0, len(records)),
	}

	for _, record := range records {
		run.Executions = append(run.Executions, legacyExecution(record))
	}

	return run, nil
}

// legacyExecution maps one flat record onto an execution, synthesizing
// evaluations from its classified score fields.
func legacyExecution(record map[string]any) store.NewExecution {
	execution := store.NewExecution{
		SessionID:      stringField(record, "session_id", "sessionId"),
		Input:          stringField(record, "input"),
		ExpectedOutput: stringField(record, "expected_output", "expectedOutput"),
		Groundtruth:    stringField(record, "groundtruth", "ground_truth"),
		Duration:       metrics.CoerceFloat(firstValue(record, "duration")),
		TotalTokens: int(metrics.CoerceFloat(
			firstValue(record, "total_tokens", "totalTokens"))),
	}

	if output := stringField(record, "output", "actual_output"); output != "" {
		execution.Output = &output
	}

	extraction := metrics.Extract(record)

	for _, score := range extraction.Scores {
		execution.Evaluations = append(execution.Evaluations,
			store.NewEvaluation{
				MetricName:   score.Key,
				MetricValue:  score.Value,
				MetricReason: score.Reason,
			})
	}

	return execution
}

// stringField returns the first present string value among the given keys.
func stringField(record map[string]any, keys ...string) string {
	if s, ok := firstValue(record, keys...).(string); ok {
		return s
	}

	return ""
}

// firstValue returns the first present value among the given keys.
func firstValue(record map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := record[key]; ok {
			return v
		}
	}

	return nil
}
