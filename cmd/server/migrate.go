package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-tourney-backend/internal/config"
	"github.com/DoyleJ11/duel-tourney-backend/internal/logging"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store/gormstore"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			st, err := gormstore.Open(cfg.DBDriver, cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("schema up to date", zap.String("driver", cfg.DBDriver))
			return nil
		},
	}
}
