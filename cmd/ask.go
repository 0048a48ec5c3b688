package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/pipeline"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question about the financial graph",
	Long:  `Answers a single natural-language question, for example "How did NVDA perform in 2023?", and prints the answer with its confidence.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().String("conversation", "", "conversation id, to continue an earlier exchange within this process")
	askCmd.Flags().Bool("show-query", false, "print the generated graph query")
	askCmd.Flags().Bool("json", false, "output the full response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	conversationID, _ := cmd.Flags().GetString("conversation")
	showQuery, _ := cmd.Flags().GetBool("show-query")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	resp := a.pipeline.Ask(context.Background(), pipeline.Request{
		Question:       args[0],
		ConversationID: conversationID,
	})

	if jsonOutput {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling response: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printResponse(os.Stdout, resp, showQuery)
	}
	if resp.ErrorKind != "" {
		return fmt.Errorf("question not answered: %s", resp.ErrorKind)
	}
	return nil
}

// printResponse writes an answer with its metadata for a terminal.
func printResponse(w io.Writer, resp pipeline.Response, showQuery bool) {
	fmt.Fprintln(w, resp.AnswerText)
	fmt.Fprintln(w)
	if resp.ErrorKind != "" {
		fmt.Fprintf(w, "  error:      %s\n", resp.ErrorKind)
	} else {
		fmt.Fprintf(w, "  confidence: %.2f\n", resp.Confidence)
	}
	if resp.EntityID != "" {
		fmt.Fprintf(w, "  company:    %s\n", resp.EntityID)
	}
	if resp.QueryCategory != "" {
		fmt.Fprintf(w, "  category:   %s (%d rows)\n", resp.QueryCategory, resp.Rows)
	}
	fmt.Fprintf(w, "  time:       %dms\n", resp.ProcessingDurationMs)
	if showQuery && resp.GeneratedQuery != "" {
		fmt.Fprintf(w, "\n%s\n", resp.GeneratedQuery)
	}
}
