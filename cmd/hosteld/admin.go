package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hostel-allocation-backend/internal/db"
	"hostel-allocation-backend/internal/store"
)

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if _, err := db.Init(&cfg.Database, cfg.Log.Level, log); err != nil {
				return err
			}
			return nil
		},
	}
}

func reconcileCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Report rooms over capacity and students with more than one active allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			gormDB, err := db.Open(&cfg.Database, cfg.Log.Level)
			if err != nil {
				return err
			}
			violations, err := store.NewGormStore(gormDB).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if violations == nil {
				violations = []store.Violation{}
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(violations); err != nil {
				return err
			}
			if len(violations) > 0 {
				log.Error("residency invariants violated", zap.Int("violations", len(violations)))
				return fmt.Errorf("%d invariant violations found", len(violations))
			}
			log.Info("residency invariants hold")
			return nil
		},
	}
}
