package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the graph schema and the known companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := loadSchema(cfg)
		if err != nil {
			return err
		}

		fmt.Println(d.Describe())
		fmt.Println()
		fmt.Printf("Companies (%d):\n", len(d.Entities()))
		for _, e := range d.Entities() {
			line := fmt.Sprintf("  %-6s %s", e.ID, e.Name)
			if len(e.Aliases) > 0 {
				line += " (" + strings.Join(e.Aliases, ", ") + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
