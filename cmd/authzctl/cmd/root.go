// Package cmd implements the authzctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	outputFormat string

	// Shared runtime graph, built once per invocation.
	services *app.Services
)

var rootCmd = &cobra.Command{
	Use:   "authzctl",
	Short: "Operator CLI for the authorization service",
	Long: `authzctl evaluates decisions, manages role assignments and clears
cached decisions against the same PostgreSQL and Redis as authzd.

Configuration is read from the environment, exactly like the daemon.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "completion" || cmd.Name() == "help" {
			return nil
		}
		if err := validateOutputFormat(outputFormat); err != nil {
			return err
		}
		if offline, _ := cmd.Flags().GetBool("print"); offline {
			return nil
		}

		cfg, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger := app.NewLogger(cfg).With(slog.String("component", "authzctl"))
		services, err = app.BuildServices(cmd.Context(), cfg, logger, observability.NewMetrics())
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if services != nil {
			services.Close()
			services = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func validateOutputFormat(format string) error {
	switch format {
	case "table", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want table, json or yaml)", format)
	}
}

// formatOutput handles output formatting based on the --output flag.
// Table output is rendered by each command.
func formatOutput(w io.Writer, data any) error {
	switch outputFormat {
	case "json":
		return outputJSON(w, data)
	case "yaml":
		return outputYAML(w, data)
	default:
		return nil
	}
}

func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
