package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/stricklysoft-authgate/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-authgate/pkg/errors"
)

func newKeysCmd(g *globalFlags) *cobra.Command {
	var (
		schema string
		output string
	)
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Fetch and list the provider's signing keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := auth.SchemaVersion(schema)
			if v != auth.SchemaV1 && v != auth.SchemaV2 {
				return sserr.Newf(sserr.CodeValidation, "authgate: unknown token version %q (use v1 or v2)", schema)
			}
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			keys := auth.NewKeyCache(cfg.Auth, auth.WithLogger(logger))

			set, err := keys.Refresh(cmd.Context(), v)
			if err != nil {
				return err
			}
			logger.Debug("authgate: fetched signing keys", slog.String("url", cfg.Auth.KeysURL(v)), slog.Int("count", len(set.Keys)))

			rows := make([]keyListing, 0, len(set.Keys))
			for _, k := range set.Keys {
				rows = append(rows, describeKey(k))
			}
			return render(cmd.OutOrStdout(), output, rows)
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "v2", "token schema version: v1 or v2")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}
