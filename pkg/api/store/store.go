// Package store provides gorm-backed persistence for evaluation runs,
// executions, responses, and sparse metric rows.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/evalops/evalboard/pkg/config"
)

// Store provides persistence for dashboard resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Ping verifies database connectivity (used by the health endpoint).
	Ping(ctx context.Context) error

	// Read path.
	ListWorkflowIDs(ctx context.Context) ([]string, error)
	ListRunsByWorkflow(ctx context.Context, workflowID string) ([]TestRun, error)
	GetRun(ctx context.Context, id uint) (*TestRun, error)
	ListExecutions(ctx context.Context, runID uint) ([]TestExecution, error)
	ListEvaluations(ctx context.Context, executionIDs []uint) ([]Evaluation, error)

	// Write path.
	CreateRun(ctx context.Context, run *NewRun) (*TestRun, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&TestRun{},
		&TestExecution{},
		&TestResponse{},
		&Evaluation{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Ping verifies database connectivity.
func (s *store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	return nil
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ListWorkflowIDs returns the distinct workflow ids seen on runs, ordered
// alphabetically.
func (s *store) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&TestRun{}).
		Distinct("workflow_id").
		Order("workflow_id ASC").
		Pluck("workflow_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing workflow ids: %w", err)
	}

	return ids, nil
}

// ListRunsByWorkflow returns all runs for one workflow ordered by start
// timestamp ascending.
func (s *store) ListRunsByWorkflow(
	ctx context.Context, workflowID string,
) ([]TestRun, error) {
	var runs []TestRun
	if err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("start_ts ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs for workflow %q: %w", workflowID, err)
	}

	return runs, nil
}

// GetRun returns one run by id. The wrapped error satisfies IsNotFound
// when the run does not exist.
func (s *store) GetRun(ctx context.Context, id uint) (*TestRun, error) {
	var run TestRun
	if err := s.db.WithContext(ctx).
		First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("getting run %d: %w", id, err)
	}

	return &run, nil
}

// ListExecutions returns all executions of a run (roots and children) with
// their responses preloaded, ordered by creation timestamp ascending with
// id as the stable tie-break.
func (s *store) ListExecutions(
	ctx context.Context, runID uint,
) ([]TestExecution, error) {
	var executions []TestExecution
	if err := s.db.WithContext(ctx).
		Preload("Response").
		Where("run_id = ?", runID).
		Order("creation_ts ASC, id ASC").
		Find(&executions).Error; err != nil {
		return nil, fmt.Errorf("listing executions for run %d: %w", runID, err)
	}

	return executions, nil
}

// ListEvaluations returns all evaluation rows for the given execution ids
// in a single query.
func (s *store) ListEvaluations(
	ctx context.Context, executionIDs []uint,
) ([]Evaluation, error) {
	if len(executionIDs) == 0 {
		return nil, nil
	}

	var evaluations []Evaluation
	if err := s.db.WithContext(ctx).
		Where("test_execution_id IN ?", executionIDs).
		Order("id ASC").
		Find(&evaluations).Error; err != nil {
		return nil, fmt.Errorf("listing evaluations: %w", err)
	}

	return evaluations, nil
}

// CreateRun creates a run together with its executions, responses, and
// evaluation rows in one transaction, so a mid-sequence failure commits
// nothing. Returns the persisted run row.
func (s *store) CreateRun(
	ctx context.Context, run *NewRun,
) (*TestRun, error) {
	if run.WorkflowID == "" {
		return nil, fmt.Errorf("workflow_id is required")
	}

	created := &TestRun{
		WorkflowID: run.WorkflowID,
		StartTs:    run.StartTs,
		FinishTs:   run.FinishTs,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}

		// Ids of already-inserted executions, by request index. Parent
		// references are remapped through this slice.
		insertedIDs := make([]uint, 0, len(run.Executions))

		for i := range run.Executions {
			e := &run.Executions[i]

			var parentID *uint

			if e.ParentIndex != nil {
				idx := *e.ParentIndex
				if idx < 0 || idx >= i {
					return fmt.Errorf(
						"execution %d: parent index %d must reference an earlier execution",
						i, idx,
					)
				}

				id := insertedIDs[idx]
				parentID = &id
			}

			execution := &TestExecution{
				RunID:             created.ID,
				WorkflowID:        run.WorkflowID,
				SessionID:         e.SessionID,
				ParentExecutionID: parentID,
				Input:             e.Input,
				ExpectedOutput:    e.ExpectedOutput,
				Groundtruth:       e.Groundtruth,
				Duration:          e.Duration,
				TotalTokens:       e.TotalTokens,
			}

			if err := tx.Create(execution).Error; err != nil {
				return fmt.Errorf("creating execution %d: %w", i, err)
			}

			insertedIDs = append(insertedIDs, execution.ID)

			if e.Output != nil {
				response := &TestResponse{
					TestExecutionID: execution.ID,
					ActualOutput:    *e.Output,
				}

				if err := tx.Create(response).Error; err != nil {
					return fmt.Errorf("creating response for execution %d: %w", i, err)
				}
			}

			for j := range e.Evaluations {
				ev := &e.Evaluations[j]

				workflowID := ev.WorkflowID
				if workflowID == "" {
					workflowID = run.WorkflowID
				}

				evaluation := &Evaluation{
					TestExecutionID: execution.ID,
					WorkflowID:      workflowID,
					MetricName:      ev.MetricName,
					MetricValue:     ev.MetricValue,
					MetricReason:    ev.MetricReason,
				}

				if err := tx.Create(evaluation).Error; err != nil {
					return fmt.Errorf(
						"creating evaluation %q for execution %d: %w",
						ev.MetricName, i, err,
					)
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("run_id", created.ID).
		WithField("workflow_id", created.WorkflowID).
		WithField("executions", len(run.Executions)).
		Debug("Run created")

	return created, nil
}
