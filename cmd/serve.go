package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/fingraph/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing the ask_financial_graph, describe_schema and check_query tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "fingraph MCP server started on stdio (graph=%s, companies=%d)\n", a.cfg.Graph.URI, len(a.schema.Entities()))

		srv := mcpserver.NewServer(a.pipeline, a.schema)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
