package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/eval"
	"github.com/ziadkadry99/fingraph/internal/progress"
)

var evalCmd = &cobra.Command{
	Use:   "eval [file.yaml]",
	Short: "Run a batch of questions and check the answers",
	Long: `Runs every question in a YAML eval file through the pipeline, checks
expected keywords, companies, categories and error kinds, and prints a
summary with token usage and estimated cost.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().Float64("fail-under", 0, "exit with an error when the pass rate is below this fraction")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	failUnder, _ := cmd.Flags().GetFloat64("fail-under")

	suite, err := eval.Load(args[0])
	if err != nil {
		return err
	}

	a, err := buildApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	label := "eval"
	if suite.Name != "" {
		label = suite.Name
	}
	report := eval.Run(ctx, a.pipeline, suite, progress.NewReporter(label, os.Stderr))

	fmt.Println("Eval Summary")
	fmt.Println("============")
	fmt.Printf("  Cases run:        %d of %d\n", len(report.Results), len(suite.Cases))
	fmt.Printf("  Passed:           %d (%.0f%%)\n", report.Passed, report.PassRate()*100)
	fmt.Printf("  Avg confidence:   %.2f\n", report.AvgConfidence)
	fmt.Printf("  Avg turn time:    %s\n", report.AvgDuration)
	if len(report.ByErrorKind) > 0 {
		fmt.Println()
		fmt.Println("  Errors:")
		for _, k := range report.ErrorKinds() {
			fmt.Printf("    %-32s %d\n", k, report.ByErrorKind[k])
		}
	}

	if failed := report.Failed(); len(failed) > 0 {
		fmt.Println()
		fmt.Println("  Failures:")
		for _, r := range failed {
			fmt.Printf("  - %s\n", r.Case.Question)
			for _, f := range r.Failures {
				fmt.Printf("      %s\n", f)
			}
		}
	}

	u, cost := a.cost()
	fmt.Println()
	fmt.Printf("  Model calls:      %d (%d in / %d out tokens)\n", u.Calls, u.InputTokens, u.OutputTokens)
	fmt.Printf("  Estimated cost:   $%.4f (model: %s)\n", cost, a.cfg.Model)

	if report.PassRate() < failUnder {
		return fmt.Errorf("pass rate %.2f is below %.2f", report.PassRate(), failUnder)
	}
	return nil
}
