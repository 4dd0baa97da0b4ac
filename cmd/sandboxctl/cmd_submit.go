package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var submitCmd = &cobra.Command{
	Use:   "submit <name> <file>",
	Short: "Upload a sample and print its submission id",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmit,
}

var checkCmd = &cobra.Command{
	Use:   "check <name> <id>",
	Short: "Report whether an analysis has finished",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheck,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	sb, logger, err := openSandbox(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open sample: %w", err)
	}
	defer f.Close()

	id, err := sb.Submit(cmd.Context(), f, filepath.Base(args[1]))
	if err != nil {
		return err
	}
	logger.Info("submitted", zap.String("file", args[1]), zap.String("id", id.String()))
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	sb, _, err := openSandbox(args[0])
	if err != nil {
		return err
	}
	id, err := parseID(sb, args[1])
	if err != nil {
		return err
	}
	done, err := sb.IsComplete(cmd.Context(), id)
	if err != nil {
		return err
	}
	state := "pending"
	if done {
		state = "complete"
	}
	fmt.Fprintln(cmd.OutOrStdout(), state)
	return nil
}
