package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/checkers/checker"
	"github.com/liamcoop/checkers/datasource"
	"github.com/liamcoop/checkers/notifier"
	"github.com/liamcoop/checkers/rules"
)

var (
	checkRuleFile  string
	checkDialect   string
	checkDatasets  []string
	checkCSVHeader bool
	checkNotify    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a rule file against CSV datasets",
	Long: `Evaluate one rule without a store. Each --dataset takes name=path to a CSV
file and may be repeated. The event is printed, or published through the
configured notifier with --notify.`,
	Example: `  checkers check --rule orders.py --dataset orders=orders.csv
  checkers check --rule size.cel --dialect cel --dataset my_data=data.csv --header`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkRuleFile, "rule", "", "Path to the rule source (required)")
	checkCmd.Flags().StringVar(&checkDialect, "dialect", string(rules.DialectPython), "Rule dialect: python or cel")
	checkCmd.Flags().StringArrayVar(&checkDatasets, "dataset", nil, "Dataset as name=path/to/file.csv (repeatable)")
	checkCmd.Flags().BoolVar(&checkCSVHeader, "header", false, "CSV files start with a header row")
	checkCmd.Flags().BoolVar(&checkNotify, "notify", false, "Publish the event through the configured notifier")
	checkCmd.MarkFlagRequired("rule")
}

// parseDatasetFlags turns name=path flags into providers, in flag order
func parseDatasetFlags(values []string, header bool) ([]checker.Provider, error) {
	providers := make([]checker.Provider, 0, len(values))
	for _, v := range values {
		name, path, ok := strings.Cut(v, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --dataset %q, expected name=path", v)
		}
		p, err := datasource.LoadCSV(name, path, header)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	dialect, err := rules.ParseDialect(checkDialect)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(checkRuleFile)
	if err != nil {
		return fmt.Errorf("failed to read rule: %w", err)
	}
	providers, err := parseDatasetFlags(checkDatasets, checkCSVHeader)
	if err != nil {
		return err
	}

	transportCfg := notifier.Config{Kind: notifier.KindMemory}
	if checkNotify {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		transportCfg = cfg.Notifier
	}
	transport, closeTransport, err := notifier.New(transportCfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	rule := rules.Rule{ID: checkRuleFile, Name: checkRuleFile, Source: string(source), Dialect: dialect}
	n := checker.NewEventNotifier(transport, transportCfg.Destinations())
	report, err := checker.NewExecutor(rule, providers, n).Run(cmd.Context())

	out := cmd.OutOrStdout()
	for _, d := range report.Dropped {
		fmt.Fprintf(out, "dropped %s at line %d: %s\n", d.Kind, d.Line, d.Reason)
	}
	if mem, ok := transport.(*notifier.MemoryTransport); ok {
		for _, m := range mem.Messages("") {
			fmt.Fprintf(out, "%s\n", m.Payload)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s\n", report.Outcome)
	if !report.Green() {
		return exitCode(exitRed)
	}
	return nil
}
