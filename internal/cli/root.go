// Package cli implements territoryctl, the operator tool for the territory service.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRootCmd assembles territoryctl and its subcommands.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "territoryctl",
		Short: "Operate the territory capture service",
		Long: `territoryctl inspects and repairs territory state.

Database commands read POSTGRES_URL and the TERRITORY_* settings from the environment,
exactly like the api and consumer binaries.`,
		SilenceUsage: true,
	}
	root.Version = Version
	root.SetVersionTemplate("territoryctl version {{.Version}}\n")

	root.AddCommand(newDetectCmd(), newAnalyzeCmd(), newMigrateCmd(), newDLQCmd())
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
