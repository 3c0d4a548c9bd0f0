// Command authgate runs the bearer-token gateway and offers a few
// operator tools around it.
//
//	authgate serve                  run the HTTP (and optional gRPC) gateway
//	authgate inspect <token>        print a token's header, claims and expiry
//	authgate keys --schema v2       fetch and list the provider's signing keys
//	authgate purge                  delete expired refresh records (postgres)
//
// Settings come from, in increasing precedence: struct defaults, the file
// given by --config, the --env-file dotenv file and the environment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
	envPrefix  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "authgate",
		Short:         "Azure AD bearer-token gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "YAML or JSON settings file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&g.envPrefix, "env-prefix", "", "prefix for environment variable names")

	root.AddCommand(
		newServeCmd(g),
		newInspectCmd(),
		newKeysCmd(g),
		newPurgeCmd(g),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "authgate:", err)
		os.Exit(1)
	}
}
