package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the toolgate binary.
var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Aggregate many MCP servers behind one endpoint",
	Long: `toolgate runs a local aggregation gateway for MCP tool servers.

Backends declared in the catalog (child processes, HTTP endpoints, SSE
streams) are exposed to a single client as one logical server carrying the
namespaced union of their tools, with credential injection, lazy startup,
and idle shutdown.`,
	// Errors are reported by the commands themselves; usage spam on a
	// handled failure only obscures them.
	SilenceUsage: true,
}

// SetVersion injects the build version from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "toolgate version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
