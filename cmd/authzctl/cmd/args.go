package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ExactArgsWithUsage returns a validator that requires exactly n arguments
// and prints the argument names from the command's Use line on mismatch.
func ExactArgsWithUsage(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return argsError(cmd, n, len(args))
		}
		return nil
	}
}

// MinArgsWithUsage requires at least n arguments.
func MinArgsWithUsage(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return argsError(cmd, n, len(args))
		}
		return nil
	}
}

func argsError(cmd *cobra.Command, want, got int) error {
	argNames := extractArgNames(cmd.Use)

	var msg strings.Builder
	fmt.Fprintf(&msg, "requires %d argument(s), received %d\n\n", want, got)
	fmt.Fprintf(&msg, "Usage: %s %s\n", cmd.CommandPath(), strings.Join(argNames, " "))
	fmt.Fprintf(&msg, "\nRun '%s --help' for details.", cmd.CommandPath())
	return fmt.Errorf("%s", msg.String())
}

// extractArgNames returns the positional placeholders of a Use string, such
// as "<principal>" and "[tenant]".
func extractArgNames(use string) []string {
	parts := strings.Fields(use)
	if len(parts) <= 1 {
		return nil
	}
	var names []string
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "<") || strings.HasPrefix(part, "[") {
			names = append(names, part)
		}
	}
	return names
}

// parseOwners turns "id" or "id=owner" arguments into a batch owner map.
func parseOwners(args []string) (map[string]string, error) {
	owners := make(map[string]string, len(args))
	for _, arg := range args {
		id, owner, _ := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid resource %q: empty id", arg)
		}
		owners[id] = strings.TrimSpace(owner)
	}
	return owners, nil
}
