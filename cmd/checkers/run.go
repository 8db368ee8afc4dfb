package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liamcoop/checkers/runner"
)

var (
	runCheckerID string
	runFile      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one cycle of every active checker, or of a single checker",
	Long: `Run one check cycle and exit. Each cycle publishes exactly one event.
The exit status is 0 when every checker is green, 1 when any is red and 2 on
errors, including events that could not be delivered.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runCheckerID, "checker", "", "Run only this checker")
	runCmd.Flags().StringVar(&runFile, "file", "", "Load checker definitions from this YAML file first")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	file := runFile
	if file == "" {
		file = cfg.Runner.CheckersFile
	}
	if _, err := a.seed(ctx, file); err != nil {
		return err
	}

	var results []runner.Result
	if runCheckerID != "" {
		report, err := a.runner.RunOnce(ctx, runCheckerID)
		if report == nil {
			return err
		}
		results = []runner.Result{{CheckerID: runCheckerID, Report: report, Err: err}}
	} else {
		results, err = a.runner.RunAll(ctx)
		if results == nil && err != nil {
			return err
		}
	}

	return printResults(cmd, results)
}

// printResults writes one line per checker and turns the results into the
// exit status
func printResults(cmd *cobra.Command, results []runner.Result) error {
	out := cmd.OutOrStdout()
	red, failed := 0, 0

	for _, res := range results {
		switch {
		case res.Report == nil:
			failed++
			fmt.Fprintf(out, "%-36s ERROR   %v\n", res.CheckerID, res.Err)
		case res.Err != nil:
			failed++
			fmt.Fprintf(out, "%-36s %-7s %s (not delivered: %v)\n", res.CheckerID, "ERROR", res.Report.Outcome.Kind, res.Err)
		case res.Report.Green():
			fmt.Fprintf(out, "%-36s GREEN   %s\n", res.CheckerID, res.Report.Outcome.Kind)
		default:
			red++
			cause := ""
			if res.Report.Cause != nil {
				cause = res.Report.Cause.Error()
			}
			fmt.Fprintf(out, "%-36s RED     %s: %s\n", res.CheckerID, res.Report.Outcome.Kind, cause)
		}
	}
	fmt.Fprintf(out, "%d checkers, %d red, %d errors\n", len(results), red, failed)

	switch {
	case failed > 0:
		return exitCode(exitError)
	case red > 0:
		return exitCode(exitRed)
	}
	return nil
}
