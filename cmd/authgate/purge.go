package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authgate/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

func newPurgeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired refresh records from the postgres store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cfg.RefreshStore != storePostgres {
				return sserr.Newf(sserr.CodeValidation,
					"authgate: purge needs REFRESH_STORE=postgres, got %q", cfg.RefreshStore)
			}
			ctx := cmd.Context()
			client, err := postgres.NewClient(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer client.Close()

			store := auth.NewPostgresRefreshStore(client)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired refresh records\n", n)
			return nil
		},
	}
}
