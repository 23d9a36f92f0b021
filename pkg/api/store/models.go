package store

import (
	"time"
)

// Reserved metric names that must never appear in the generic metrics map.
// They are surfaced through the dedicated duration/totalTokens execution
// columns instead.
const (
	ReservedMetricDuration    = "duration"
	ReservedMetricTotalTokens = "totalTokens"
)

// TestRun is one evaluation run of a workflow.
type TestRun struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	WorkflowID string     `gorm:"index;not null" json:"workflow_id"`
	StartTs    *time.Time `json:"start_ts"`
	FinishTs   *time.Time `json:"finish_ts"`
	CreationTs time.Time  `gorm:"autoCreateTime" json:"creation_ts"`
}

// TableName keeps the persisted schema of the original system.
func (TestRun) TableName() string { return "test_run" }

// TestExecution is one question/answer pair inside a run. Executions with a
// ParentExecutionID are sub-executions nested under another execution of
// the same run.
type TestExecution struct {
	ID                uint          `gorm:"primaryKey" json:"id"`
	RunID             uint          `gorm:"index;not null" json:"run_id"`
	WorkflowID        string        `gorm:"not null" json:"workflow_id"`
	SessionID         string        `json:"session_id"`
	ParentExecutionID *uint         `gorm:"index" json:"parent_execution_id"`
	Input             string        `gorm:"type:text" json:"input"`
	ExpectedOutput    string        `gorm:"type:text" json:"expected_output"`
	Groundtruth       string        `gorm:"type:text" json:"groundtruth"`
	Duration          float64       `json:"duration"`
	TotalTokens       int           `json:"total_tokens"`
	CreationTs        time.Time     `gorm:"autoCreateTime" json:"creation_ts"`
	Response          *TestResponse `gorm:"foreignKey:TestExecutionID" json:"response,omitempty"`
}

// TableName keeps the persisted schema of the original system.
func (TestExecution) TableName() string { return "test_execution" }

// TestResponse holds the actual model output for an execution, 1:1.
type TestResponse struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	TestExecutionID uint   `gorm:"uniqueIndex;not null" json:"test_execution_id"`
	ActualOutput    string `gorm:"type:text" json:"actual_output"`
}

// TableName keeps the persisted schema of the original system.
func (TestResponse) TableName() string { return "test_response" }

// Evaluation is one sparse metric row: a named score plus the evaluator's
// reasoning, attached to an execution. Metrics are stored as rows rather
// than columns, which is what makes the read-side metric extraction
// necessary.
type Evaluation struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	TestExecutionID uint    `gorm:"index;not null" json:"test_execution_id"`
	WorkflowID      string  `json:"workflow_id"`
	MetricName      string  `gorm:"not null" json:"metric_name"`
	MetricValue     float64 `json:"metric_value"`
	MetricReason    string  `gorm:"type:text" json:"metric_reason"`
}

// TableName keeps the persisted schema of the original system.
func (Evaluation) TableName() string { return "evaluation" }

// NewRun is the write-path shape for creating a run together with its
// executions, evaluations, and responses in one transaction.
type NewRun struct {
	WorkflowID string
	StartTs    *time.Time
	FinishTs   *time.Time
	Executions []NewExecution
}

// NewExecution describes one execution inside a NewRun. ParentIndex, when
// set, is the 0-based index of the parent execution within the same
// request; it is remapped to the generated database id on insert and must
// reference an earlier element.
type NewExecution struct {
	SessionID      string
	ParentIndex    *int
	Input          string
	ExpectedOutput string
	Groundtruth    string
	Duration       float64
	TotalTokens    int
	Output         *string
	Evaluations    []NewEvaluation
}

// NewEvaluation describes one metric row inside a NewExecution. WorkflowID
// defaults to the run's workflow when empty.
type NewEvaluation struct {
	WorkflowID   string
	MetricName   string
	MetricValue  float64
	MetricReason string
}
