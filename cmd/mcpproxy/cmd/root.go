package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCmd creates the root command for mcpproxy.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcpproxy",
		Short: "Aggregating proxy for multiple MCP servers",
		Long: `mcpproxy connects to a set of configured MCP servers, fuses their tools,
resources, and prompts into one prefixed namespace, and exposes the union to
downstream MCP clients through a single HTTP endpoint.

Use subcommands to start the proxy or inspect version information.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
