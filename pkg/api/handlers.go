package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/dashboard"
	"github.com/evalops/evalboard/pkg/metrics"
)

// errorResponse is a standard error payload. Details carries the raw
// driver message on write failures.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// parseRunIDParam parses a numeric chi URL parameter.
func parseRunIDParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)

	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid run id %q", raw)
	}

	return uint(id), nil
}

// handleHealth probes database connectivity.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	timestamp := time.Now().UTC().Format(time.RFC3339)

	if err := s.store.Ping(r.Context()); err != nil {
		s.log.WithError(err).Warn("Health check failed")

		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "error",
			"timestamp": timestamp,
			"database":  "disconnected",
		})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": timestamp,
		"database":  "connected",
	})
}

// handleListProjects returns the singleton project wrapped in an array.
func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	project, err := s.dashboard.Project(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to build project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, []*dashboard.Project{project})
}

// handleGetProject returns the singleton project. The system models
// exactly one project, so the path parameter is ignored.
func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.dashboard.Project(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to build project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, project)
}

// handleWorkflowRuns returns all formatted runs of one workflow.
func (s *server) handleWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowId")

	runs, err := s.dashboard.RunsForWorkflow(r.Context(), workflowID)
	if err != nil {
		s.log.WithError(err).
			WithField("workflow_id", workflowID).
			Error("Failed to list workflow runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns one fully formatted run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunIDParam(r, "runId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: err.Error()})

		return
	}

	run, err := s.dashboard.Run(r.Context(), id)
	if err != nil {
		s.writeRunError(w, id, err)

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRunAggregates returns per-metric averages for one run.
func (s *server) handleRunAggregates(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunIDParam(r, "runId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: err.Error()})

		return
	}

	aggregates, err := s.dashboard.Aggregates(r.Context(), id)
	if err != nil {
		s.writeRunError(w, id, err)

		return
	}

	writeJSON(w, http.StatusOK, aggregates)
}

// handleCompareRuns returns per-metric deltas between a run and a baseline.
func (s *server) handleCompareRuns(w http.ResponseWriter, r *http.Request) {
	id, err := parseRunIDParam(r, "runId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: err.Error()})

		return
	}

	baselineID, err := parseRunIDParam(r, "baselineRunId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: err.Error()})

		return
	}

	comparison, err := s.dashboard.Compare(r.Context(), id, baselineID)
	if err != nil {
		if store.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{Error: "run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to compare runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, comparison)
}

// writeRunError maps run lookup failures to 404/500.
func (s *server) writeRunError(w http.ResponseWriter, id uint, err error) {
	if store.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{Error: fmt.Sprintf("run %d not found", id)})

		return
	}

	s.log.WithError(err).WithField("run_id", id).Error("Failed to load run")
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{Error: err.Error()})
}

// --- Write path ---

type createRunRequest struct {
	WorkflowID string                   `json:"workflow_id"`
	StartTs    *time.Time               `json:"start_ts"`
	FinishTs   *time.Time               `json:"finish_ts"`
	Executions []createExecutionRequest `json:"executions"`
}

type createExecutionRequest struct {
	SessionID         string                    `json:"session_id"`
	ParentExecutionID *int                      `json:"parent_execution_id"`
	Input             string                    `json:"input"`
	ExpectedOutput    string                    `json:"expected_output"`
	Groundtruth       string                    `json:"groundtruth"`
	Duration          float64                   `json:"duration"`
	TotalTokens       int                       `json:"total_tokens"`
	Output            *string                   `json:"output"`
	Evaluations       []createEvaluationRequest `json:"evaluations"`
}

type createEvaluationRequest struct {
	WorkflowID   string `json:"workflow_id"`
	MetricName   string `json:"metric_name"`
	MetricValue  any    `json:"metric_value"`
	MetricReason string `json:"metric_reason"`
}

// toNewRun maps the wire shape onto the store write shape, coercing metric
// values best-effort.
func (req *createRunRequest) toNewRun() *store.NewRun {
	run := &store.NewRun{
		WorkflowID: req.WorkflowID,
		StartTs:    req.StartTs,
		FinishTs:   req.FinishTs,
		Executions: make([]store.NewExecution, 0, len(req.Executions)),
	}

	for _, e := range req.Executions {
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

	return run
}

// handleCreateRun ingests a run together with its executions, evaluations,
// and responses, and returns the formatted result.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "invalid request body"})

		return
	}

	created, err := s.store.CreateRun(r.Context(), req.toNewRun())
	if err != nil {
		s.log.WithError(err).Error("Failed to create run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "failed to create run",
			Details: err.Error(),
		})

		return
	}

	run, err := s.dashboard.Run(r.Context(), created.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to format created run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "failed to load created run",
			Details: err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusCreated, run)
}
