package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(invalidateCmd)
	invalidateCmd.AddCommand(invalidateUserCmd)
	invalidateCmd.AddCommand(invalidateTenantCmd)
	invalidateCmd.AddCommand(invalidateAllCmd)

	invalidateUserCmd.Flags().StringP("tenant", "t", "", "Only clear decisions in this tenant")
	invalidateAllCmd.Flags().Bool("yes", false, "Confirm clearing every cached decision")
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Clear cached decisions",
}

var invalidateUserCmd = &cobra.Command{
	Use:   "user <principal>",
	Short: "Clear cached decisions for a principal",
	Long: `Clear cached decisions for a principal. Without --tenant every tenant
of the principal is cleared.`,
	Args: ExactArgsWithUsage(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		if err := services.Engine.InvalidateForUser(cmd.Context(), args[0], tenant); err != nil {
			return fmt.Errorf("failed to invalidate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared cached decisions for %s%s\n", args[0], scopeSuffix(tenant))
		return nil
	},
}

var invalidateTenantCmd = &cobra.Command{
	Use:   "tenant <tenant>",
	Short: "Clear cached decisions for every principal in a tenant",
	Args:  ExactArgsWithUsage(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := services.Engine.InvalidateForTenant(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to invalidate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared cached decisions in tenant %s\n", args[0])
		return nil
	},
}

var invalidateAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Clear every cached decision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to clear every cached decision without --yes")
		}
		if err := services.Engine.InvalidateAll(cmd.Context()); err != nil {
			return fmt.Errorf("failed to invalidate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared every cached decision")
		return nil
	},
}
