package main

import (
	"github.com/spf13/cobra"

	"github.com/d60-Lab/connectnow/pkg/database"
	"github.com/d60-Lab/connectnow/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.InitDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)
		if err := database.Migrate(db); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}
