package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orrn/printdesk/internal/archive"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/staging"
	"github.com/orrn/printdesk/internal/storage"
)

// GetSweepCmd returns the sweep command
func GetSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove staged files older than the retention window once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			store, err := staging.NewStore(staging.Config{
				Dir:               cfg.Staging.Dir,
				MaxFileSize:       cfg.Staging.MaxFileSize,
				AllowedExtensions: cfg.Staging.AllowedExtensions,
				Retention:         cfg.Staging.Retention,
				SweepInterval:     cfg.Staging.SweepInterval,
			}, logger)
			if err != nil {
				return err
			}

			removed, err := store.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d staged file(s)\n", removed)
			return nil
		},
	}
}

// GetArchiveCmd returns the archive command
func GetArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move terminal jobs past retention into the monthly archive once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				cfg.Archive.Days = days
			}

			database, err := db.Open(db.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			defer database.Close()

			objects, err := storage.New(cfg.Storage)
			if err != nil {
				return err
			}

			archiver, err := archive.NewArchiver(database, objects, archive.Config{
				ArchivePath: cfg.Archive.Path,
				ArchiveDays: cfg.Archive.Days,
				Interval:    cfg.Archive.Interval,
			}, logger)
			if err != nil {
				return err
			}

			moved, err := archiver.RunArchive(cmd.Context())
			if err != nil {
				return fmt.Errorf("archive failed after %d job(s): %w", moved, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d job(s)\n", moved)
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "Override archive.days for this run")
	return cmd
}
