package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reportFlags struct {
	format string
	output string
}

var reportCmd = &cobra.Command{
	Use:   "report <name> <id>",
	Short: "Fetch an analysis report",
	Args:  cobra.ExactArgs(2),
	RunE:  runReport,
}

var scoreCmd = &cobra.Command{
	Use:   "score <name> <id>",
	Short: "Fetch the JSON report and print its score",
	Args:  cobra.ExactArgs(2),
	RunE:  runScore,
}

func init() {
	f := reportCmd.Flags()
	f.StringVarP(&reportFlags.format, "format", "f", "json", "Report format requested from the sandbox")
	f.StringVarP(&reportFlags.output, "output", "o", outputJSON, "Output encoding for structured reports (json|yaml)")
}

func runReport(cmd *cobra.Command, args []string) error {
	sb, _, err := openSandbox(args[0])
	if err != nil {
		return err
	}
	id, err := parseID(sb, args[1])
	if err != nil {
		return err
	}
	report, err := sb.FetchReport(cmd.Context(), id, reportFlags.format)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), reportFlags.output, report)
}

func runScore(cmd *cobra.Command, args []string) error {
	sb, _, err := openSandbox(args[0])
	if err != nil {
		return err
	}
	id, err := parseID(sb, args[1])
	if err != nil {
		return err
	}
	report, err := sb.FetchReport(cmd.Context(), id, "json")
	if err != nil {
		return err
	}
	score, err := sb.Score(report)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), score)
	return nil
}
