package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(batchCmd)

	for _, c := range []*cobra.Command{checkCmd, batchCmd} {
		c.Flags().StringP("tenant", "t", "", "Tenant the request is scoped to")
	}
	checkCmd.Flags().String("owner", "", "Owner of the resource instance")
}

// Decision is the printable result of a single check.
type Decision struct {
	Principal string `json:"principal" yaml:"principal"`
	Tenant    string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Resource  string `json:"resource" yaml:"resource"`
	Action    string `json:"action" yaml:"action"`
	Allowed   bool   `json:"allowed" yaml:"allowed"`
}

// BatchResult is the printable result of one resource instance in a batch.
type BatchResult struct {
	ID      string `json:"id" yaml:"id"`
	Owner   string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Allowed bool   `json:"allowed" yaml:"allowed"`
}

var checkCmd = &cobra.Command{
	Use:   "check <principal> <resource> <action>",
	Short: "Evaluate a single authorization decision",
	Long: `Evaluate whether a principal may perform an action on a resource.

The decision goes through the same cache as authzd, so a cached answer is
returned when present.`,
	Example: `  authzctl check alice invoices read --tenant acme
  authzctl check bob invoices delete --tenant acme --owner bob -o json`,
	Args: ExactArgsWithUsage(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		owner, _ := cmd.Flags().GetString("owner")
		req := authz.Request{
			Principal: args[0],
			Tenant:    tenant,
			Resource:  args[1],
			Action:    args[2],
			Owner:     owner,
		}
		allowed, err := services.Engine.Authorize(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("failed to authorize: %w", err)
		}
		return printDecision(cmd.OutOrStdout(), Decision{
			Principal: req.Principal,
			Tenant:    req.Tenant,
			Resource:  req.Resource,
			Action:    req.Action,
			Allowed:   allowed,
		})
	},
}

var batchCmd = &cobra.Command{
	Use:     "batch <principal> <resource> <action> <id[=owner]>...",
	Short:   "Evaluate one action against many resource instances",
	Example: `  authzctl batch alice invoices read inv-1 inv-2=alice inv-3=bob --tenant acme`,
	Args:    MinArgsWithUsage(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		owners, err := parseOwners(args[3:])
		if err != nil {
			return err
		}
		req := authz.Request{Principal: args[0], Tenant: tenant, Resource: args[1], Action: args[2]}
		results, err := services.Engine.BatchAuthorize(cmd.Context(), req, owners)
		if err != nil {
			return fmt.Errorf("failed to authorize batch: %w", err)
		}
		return printBatch(cmd.OutOrStdout(), batchResults(results, owners))
	},
}

func batchResults(results map[string]bool, owners map[string]string) []BatchResult {
	out := make([]BatchResult, 0, len(results))
	for id, allowed := range results {
		out = append(out, BatchResult{ID: id, Owner: owners[id], Allowed: allowed})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func printDecision(w io.Writer, d Decision) error {
	if outputFormat != "table" {
		return formatOutput(w, d)
	}
	verdict := "DENY"
	if d.Allowed {
		verdict = "ALLOW"
	}
	_, err := fmt.Fprintf(w, "%s %s %s:%s\n", verdict, d.Principal, d.Resource, d.Action)
	return err
}

func printBatch(w io.Writer, results []BatchResult) error {
	if outputFormat != "table" {
		return formatOutput(w, results)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tALLOWED")
	for _, r := range results {
		owner := r.Owner
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\n", r.ID, owner, r.Allowed)
	}
	return tw.Flush()
}
