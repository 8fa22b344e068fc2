package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-authz/internal/roles"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("print", false, "Print the DDL instead of applying it")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the role assignment and audit tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
			_, err := fmt.Fprint(cmd.OutOrStdout(), roles.Schema())
			return err
		}
		if err := roles.EnsureSchema(cmd.Context(), services.Pool); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
		return nil
	},
}
