package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evalops/evalboard/pkg/api/store"
	"github.com/evalops/evalboard/pkg/config"
	"github.com/evalops/evalboard/pkg/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path> [path...]",
	Short: "Load run files into the database",
	Long: `Ingest evaluation run files (YAML or JSON) into the configured
database without going through the HTTP API. Paths may be run files or
directories of run files. Legacy flat record arrays are accepted;
score-named fields become metrics.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
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

	loader := ingest.NewLoader(log, st)

	var total int

	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", path, err)
		}

		if info.IsDir() {
			count, err := loader.LoadDir(ctx, path)
			total += count

			if err != nil {
				return err
			}

			continue
		}

		if _, err := loader.LoadFile(ctx, path); err != nil {
			return err
		}

		total++
	}

	log.WithField("runs", total).Info("Ingest completed")

	return nil
}
