package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize fingraph configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to choose the LLM provider and the Neo4j connection, and writes a .fingraph.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
