package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/db"
	"github.com/ziadkadry99/fingraph/internal/transcript"
)

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "List recorded conversation turns",
	RunE:  runTranscriptsList,
}

var transcriptsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := openTranscripts()
		if err != nil {
			return err
		}
		defer closeDB()

		st, err := store.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Turns:            %d\n", st.Total)
		fmt.Printf("Avg confidence:   %.2f\n", st.AvgConfidence)
		fmt.Printf("Avg turn time:    %.0fms\n", st.AvgDurationMs)
		kinds := make([]string, 0, len(st.ByErrorKind))
		for k := range st.ByErrorKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-32s %d\n", k, st.ByErrorKind[k])
		}
		return nil
	},
}

var transcriptsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete turns older than a given age",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		store, closeDB, err := openTranscripts()
		if err != nil {
			return err
		}
		defer closeDB()

		n, err := store.DeleteBefore(context.Background(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d turn(s)\n", n)
		return nil
	},
}

func init() {
	transcriptsCmd.Flags().String("conversation", "", "only turns from this conversation")
	transcriptsCmd.Flags().String("entity", "", "only turns about this company symbol")
	transcriptsCmd.Flags().Bool("failed", false, "only turns that ended with an error")
	transcriptsCmd.Flags().Int("limit", 20, "maximum number of turns")
	transcriptsCmd.Flags().Bool("json", false, "print turns as JSON")
	transcriptsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age of the turns to delete")

	transcriptsCmd.AddCommand(transcriptsStatsCmd)
	transcriptsCmd.AddCommand(transcriptsPruneCmd)
	rootCmd.AddCommand(transcriptsCmd)
}

func openTranscripts() (*transcript.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return transcript.NewStore(database), func() { database.Close() }, nil
}

func runTranscriptsList(cmd *cobra.Command, args []string) error {
	conv, _ := cmd.Flags().GetString("conversation")
	ent, _ := cmd.Flags().GetString("entity")
	failed, _ := cmd.Flags().GetBool("failed")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	store, closeDB, err := openTranscripts()
	if err != nil {
		return err
	}
	defer closeDB()

	turns, err := store.Query(context.Background(), transcript.Filter{
		ConversationID: conv,
		EntityID:       ent,
		FailedOnly:     failed,
		Limit:          limit,
	})
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(turns)
	}
	if len(turns) == 0 {
		fmt.Println("No turns recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCONVERSATION\tENTITY\tCATEGORY\tCONF\tERROR\tQUESTION")
	for _, t := range turns {
		errKind := t.ErrorKind
		if errKind == "" {
			errKind = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			t.Timestamp.Local().Format("2006-01-02 15:04:05"),
			t.ConversationID,
			dash(t.EntityID),
			dash(t.Category),
			t.Confidence,
			errKind,
			oneLine(t.Question, 60),
		)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
