package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/healthtrack/platform/pkg/common/config"
	"github.com/healthtrack/platform/pkg/common/database"
	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/importer"
	"github.com/healthtrack/platform/pkg/storage"
	"github.com/spf13/cobra"
)

// store is what importctl needs beyond the orchestrator contract.
type store interface {
	importer.Store
	CountRecords(ctx context.Context, jobID string) (map[health.Metric]int64, error)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dryRun bool

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Run and inspect health data imports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Init()
		},
	}
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store instead of postgres")

	root.AddCommand(newImportCmd(&dryRun))
	root.AddCommand(newStatusCmd(&dryRun))
	root.AddCommand(newDeleteCmd(&dryRun))
	root.AddCommand(newSweepCmd(&dryRun))
	return root
}

func openStore(dryRun bool) (store, error) {
	if dryRun {
		return storage.NewMemoryStore(), nil
	}
	db, err := database.GetPostgres()
	if err != nil {
		return nil, err
	}
	repo := storage.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

func newImportCmd(dryRun *bool) *cobra.Command {
	var source, profile, mappingJSON string
	var userID int64

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a local export file for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*dryRun)
			if err != nil {
				return err
			}
			svc, err := importer.NewServiceFromConfig(config.Load(), st)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			req := importer.UploadRequest{
				UserID:         userID,
				DataSource:     source,
				FileName:       filepath.Base(args[0]),
				Body:           f,
				MappingProfile: profile,
			}
			if mappingJSON != "" {
				if err := json.Unmarshal([]byte(mappingJSON), &req.FieldMapping); err != nil {
					return fmt.Errorf("parse --mapping: %w", err)
				}
			}

			job, importErr := svc.ProcessUpload(cmd.Context(), req)
			if job != nil {
				counts, err := st.CountRecords(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), map[string]any{"import": job, "records": counts}); err != nil {
					return err
				}
			}
			return importErr
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "data source (apple_health, google_fit, fitbit, samsung_health, custom)")
	cmd.Flags().Int64Var(&userID, "user", 0, "owning user id")
	cmd.Flags().StringVar(&profile, "mapping-profile", "", "named field mapping for custom uploads")
	cmd.Flags().StringVar(&mappingJSON, "mapping", "", "explicit field mapping as a JSON object")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newStatusCmd(dryRun *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status <import-id>",
		Short: "Show an import job and its record counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*dryRun)
			if err != nil {
				return err
			}
			job, err := st.GetImportJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			counts, err := st.CountRecords(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"import": job, "records": counts})
		},
	}
}

func newDeleteCmd(dryRun *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-job <import-id>",
		Short: "Delete an import job and every record it created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*dryRun)
			if err != nil {
				return err
			}
			if err := st.DeleteImportJobCascade(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted import %s\n", args[0])
			return err
		},
	}
}

func newSweepCmd(dryRun *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail imports stuck in processing past STALE_IMPORT_AFTER",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(*dryRun)
			if err != nil {
				return err
			}
			cfg := config.Load()
			n, err := importer.NewSweeper(st, cfg.StaleImportAfter, nil, nil).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "closed %d stale imports\n", n)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
