package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/query"
)

var checkQueryCmd = &cobra.Command{
	Use:   "check-query [cypher]",
	Short: "Validate a Cypher query against the graph schema",
	Long: `Checks a read-only Cypher query against the configured schema without
running it. Reads the query from stdin when no argument is given. Exits with
an error when the query has any violation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := loadSchema(cfg)
		if err != nil {
			return err
		}

		var text string
		if len(args) == 1 {
			text = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading query: %w", err)
			}
			text = string(data)
		}

		violations := query.NewValidator(d).Validate(strings.TrimSpace(text), query.Placeholders())
		if len(violations) == 0 {
			fmt.Println("OK: query conforms to the schema")
			return nil
		}
		for _, v := range violations {
			fmt.Printf("  - %s\n", v)
		}
		return fmt.Errorf("%d schema violation(s)", len(violations))
	},
}

func init() {
	rootCmd.AddCommand(checkQueryCmd)
}
