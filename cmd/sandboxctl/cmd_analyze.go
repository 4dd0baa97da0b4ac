package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengovern/sandbox-bridge/internal/lifecycle"
)

var analyzeFlags struct {
	opts   lifecycle.PollOptions
	output string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <name> <file>",
	Short: "Submit a sample, wait for the analysis and print its score",
	Args:  cobra.ExactArgs(2),
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.DurationVar(&analyzeFlags.opts.Interval, "interval", lifecycle.DefaultInterval, "Delay between status checks")
	f.DurationVar(&analyzeFlags.opts.Timeout, "timeout", lifecycle.DefaultTimeout, "Give up when the analysis takes longer")
	f.StringVarP(&analyzeFlags.output, "output", "o", outputYAML, "Output encoding (json|yaml)")
}

type analyzeResult struct {
	ID    string  `json:"id" yaml:"id"`
	State string  `json:"state" yaml:"state"`
	Polls int     `json:"polls" yaml:"polls"`
	Score float64 `json:"score" yaml:"score"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	sb, logger, err := openSandbox(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open sample: %w", err)
	}
	defer f.Close()

	opts := analyzeFlags.opts
	opts.Logger = logger
	res, err := lifecycle.Run(cmd.Context(), sb, f, filepath.Base(args[1]), opts)
	if err != nil {
		if res != nil {
			logger.Error("analysis failed", zap.String("id", res.ID.String()), zap.String("state", res.State), zap.Error(err))
		}
		return err
	}
	return writeValue(cmd.OutOrStdout(), analyzeFlags.output, analyzeResult{
		ID:    res.ID.String(),
		State: res.State,
		Polls: res.Polls,
		Score: res.Score,
	})
}
