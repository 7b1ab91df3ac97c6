// Command tourneyd serves duel tournament sessions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tourneyd",
		Short:         "Duel tournament session server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file to load before reading TOURNEY_* variables")
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}
