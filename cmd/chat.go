package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/pipeline"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat about the financial graph",
	Long:  `Starts a read-eval-print loop that keeps one conversation, so follow-up questions like "what about 2022?" refer to the last company discussed. Type "exit" or press Ctrl-C to leave.`,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().Bool("show-query", false, "print each generated graph query")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	showQuery, _ := cmd.Flags().GetBool("show-query")

	a, err := buildApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	conversationID := uuid.NewString()
	fmt.Println("Ask about prices, yearly returns, correlations, sectors or market communities.")
	fmt.Println(`Type "exit" to quit.`)
	fmt.Println()

	prompt := promptui.Prompt{Label: "You"}
	for {
		question, err := prompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}
		question = strings.TrimSpace(question)
		if question == "" {
			continue
		}
		if q := strings.ToLower(question); q == "exit" || q == "quit" {
			break
		}

		resp := a.pipeline.Ask(context.Background(), pipeline.Request{
			Question:       question,
			ConversationID: conversationID,
		})
		fmt.Println()
		printResponse(os.Stdout, resp, showQuery)
		fmt.Println()
	}

	u, cost := a.cost()
	fmt.Printf("Goodbye! (%d model calls, ~$%.4f)\n", u.Calls, cost)
	return nil
}
