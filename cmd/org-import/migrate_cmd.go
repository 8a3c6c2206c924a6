package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/org-import/modules/orgimport/infrastructure/persistence"
	"github.com/iota-uz/org-import/pkg/configuration"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the import tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conf := configuration.Use()
			log := logrus.NewEntry(conf.Logger()).WithField("cmd", "migrate")

			pool, err := pgxpool.New(ctx, conf.Database.Opts)
			if err != nil {
				return withCode(exitDB, fmt.Errorf("connect: %w", err))
			}
			defer pool.Close()

			applied, err := persistence.Migrate(ctx, pool, log)
			if err != nil {
				return withCode(exitDBWrite, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), struct {
				Status  string  `json:"status"`
				Applied []int64 `json:"applied"`
			}{Status: "ok", Applied: applied})
		},
	}
}
