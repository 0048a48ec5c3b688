package cmd

import "github.com/spf13/cobra"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "fingraph",
	Short: "Ask questions about a financial knowledge graph in plain English",
	Long: `fingraph answers natural-language questions about companies, stock
prices, yearly performance, correlations and market communities by turning
them into schema-checked, read-only Neo4j queries and explaining the results.
It runs as a one-shot CLI, an interactive chat, an HTTP server, or an MCP
server for AI agents.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".fingraph.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

