package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/config"
	"github.com/evalops/evalboard/pkg/dashboard"
	"github.com/evalops/evalboard/pkg/export"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Snapshot formatted dashboard data to storage",
	Long: `Export the project envelope and every formatted run as JSON to the
configured export target (local directory or S3 bucket).`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "",
		"export to this local directory, overriding the configured target")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if exportDir != "" {
		cfg.Export = &config.ExportConfig{
			Local: &config.LocalExportConfig{
				Enabled: true,
				Dir:     exportDir,
			},
		}
	}

	writer, err := export.NewWriter(log, cfg.Export)
	if err != nil {
		return fmt.Errorf("configuring export target: %w", err)
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	exporter := export.NewExporter(log, st, dashboard.NewService(log, st), writer)

	return exporter.Snapshot(ctx)
}
