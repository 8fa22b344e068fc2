package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-authz/internal/roles"
)

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesAssignCmd)
	rolesCmd.AddCommand(rolesRevokeCmd)
	rolesCmd.AddCommand(rolesReplaceCmd)

	for _, c := range []*cobra.Command{rolesAssignCmd, rolesRevokeCmd, rolesReplaceCmd} {
		c.Flags().StringP("tenant", "t", "", "Tenant scope (empty for a global assignment)")
	}
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage role assignments",
	Long: `Commands to list, assign and revoke role assignments.

Every change clears the principal's cached decisions.`,
}

var rolesListCmd = &cobra.Command{
	Use:   "list <principal>",
	Short: "List role assignments for a principal",
	Args:  ExactArgsWithUsage(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		assignments, err := services.Roles.List(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list roles: %w", err)
		}
		return printAssignments(cmd.OutOrStdout(), assignments)
	},
}

var rolesAssignCmd = &cobra.Command{
	Use:   "assign <principal> <role>",
	Short: "Grant a role to a principal",
	Args:  ExactArgsWithUsage(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		if err := services.Roles.Assign(cmd.Context(), args[0], tenant, args[1]); err != nil {
			return roleChangeError("assign", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Assigned %s to %s%s\n", args[1], args[0], scopeSuffix(tenant))
		return nil
	},
}

var rolesRevokeCmd = &cobra.Command{
	Use:   "revoke <principal> <role>",
	Short: "Revoke a role from a principal",
	Args:  ExactArgsWithUsage(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		if err := services.Roles.Revoke(cmd.Context(), args[0], tenant, args[1]); err != nil {
			if errors.Is(err, roles.ErrNotFound) {
				return fmt.Errorf("%s does not hold %s%s", args[0], args[1], scopeSuffix(tenant))
			}
			return roleChangeError("revoke", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s from %s%s\n", args[1], args[0], scopeSuffix(tenant))
		return nil
	},
}

var rolesReplaceCmd = &cobra.Command{
	Use:   "replace <principal> [role]...",
	Short: "Replace every role a principal holds in one scope",
	Args:  MinArgsWithUsage(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		if err := services.Roles.Replace(cmd.Context(), args[0], tenant, args[1:]); err != nil {
			return roleChangeError("replace", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Replaced roles of %s%s\n", args[0], scopeSuffix(tenant))
		return nil
	},
}

// roleChangeError keeps a committed change distinguishable from a failed one.
func roleChangeError(op string, err error) error {
	if errors.Is(err, roles.ErrInvalidation) {
		return fmt.Errorf("%s succeeded but cached decisions were not cleared: %w", op, err)
	}
	return fmt.Errorf("failed to %s role: %w", op, err)
}

func scopeSuffix(tenant string) string {
	if tenant == "" {
		return " (global)"
	}
	return " in tenant " + tenant
}

type assignmentView struct {
	Principal   string `json:"principal" yaml:"principal"`
	Application string `json:"application" yaml:"application"`
	Tenant      string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Role        string `json:"role" yaml:"role"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
}

func printAssignments(w io.Writer, assignments []roles.Assignment) error {
	if outputFormat != "table" {
		views := make([]assignmentView, 0, len(assignments))
		for _, a := range assignments {
			views = append(views, assignmentView{
				Principal:   a.Principal,
				Application: a.Application,
				Tenant:      a.Tenant,
				Role:        a.Role,
				CreatedAt:   a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		return formatOutput(w, views)
	}

	if len(assignments) == 0 {
		_, err := fmt.Fprintln(w, "No role assignments found. Use 'authzctl roles assign' to create one.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tTENANT\tAPPLICATION\tCREATED")
	for _, a := range assignments {
		tenant := a.Tenant
		if a.Global() {
			tenant = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Role, tenant, a.Application, a.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
