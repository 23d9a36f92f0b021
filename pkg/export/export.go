// Package export snapshots formatted dashboard data to local or
// S3-compatible storage.
package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/config"
	"github.com/evalops/evalboard/pkg/dashboard"
)

// runExportConcurrency bounds parallel run formatting during a snapshot.
const runExportConcurrency = 4

// Writer persists a single snapshot object under a key.
type Writer interface {
	// Preflight verifies that the target storage is reachable and writable.
	Preflight(ctx context.Context) error

	// Write stores data under key. Keys use "/" separators.
	Write(ctx context.Context, key string, data []byte) error
}

// NewWriter creates the Writer selected by the export configuration.
func NewWriter(
	log logrus.FieldLogger,
	cfg *config.ExportConfig,
) (Writer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("export is not configured")
	}

	if cfg.Local != nil && cfg.Local.Enabled {
		return NewLocalWriter(log, cfg.Local), nil
	}

	if cfg.S3 != nil && cfg.S3.Enabled {
		return NewS3Writer(log, cfg.S3), nil
	}

	return nil, fmt.Errorf("export is not configured")
}

// Exporter snapshots the project envelope and all formatted runs.
type Exporter struct {
	log       logrus.FieldLogger
	store     store.Store
	dashboard *dashboard.Service
	writer    Writer
}

// NewExporter creates an Exporter over the given store and writer.
func NewExporter(
	log logrus.FieldLogger,
	st store.Store,
	svc *dashboard.Service,
	writer Writer,
) *Exporter {
	return &Exporter{
		log:       log.WithField("component", "exporter"),
		store:     st,
		dashboard: svc,
		writer:    writer,
	}
}

// Snapshot writes the project envelope and one JSON document per run.
func (e *Exporter) Snapshot(ctx context.Context) error {
	if err := e.writer.Preflight(ctx); err != nil {
		return fmt.Errorf("export preflight: %w", err)
	}

	project, err := e.dashboard.Project(ctx)
	if err != nil {
		return fmt.Errorf("building project envelope: %w", err)
	}

	if err := e.writeJSON(ctx, "project.json", project); err != nil {
		return err
	}

	runIDs, err := e.collectRunIDs(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runExportConcurrency)

	for _, id := range runIDs {
		g.Go(func() error {
			run, err := e.dashboard.Run(gctx, id)
			if err != nil {
				return fmt.Errorf("formatting run %d: %w", id, err)
			}

			key := fmt.Sprintf("runs/run_%d.json", id)

			return e.writeJSON(gctx, key, run)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	e.log.WithField("runs", len(runIDs)).Info("Snapshot completed")

	return nil
}

// collectRunIDs lists every run id across all workflows.
func (e *Exporter) collectRunIDs(ctx context.Context) ([]uint, error) {
	workflowIDs, err := e.store.ListWorkflowIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}

	var ids []uint

	for _, workflowID := range workflowIDs {
		runs, err := e.store.ListRunsByWorkflow(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("listing runs for %s: %w", workflowID, err)
		}

		for _, run := range runs {
			ids = append(ids, run.ID)
		}
	}

	return ids, nil
}

func (e *Exporter) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	if err := e.writer.Write(ctx, key, data); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	return nil
}
