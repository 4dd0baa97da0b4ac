package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var availableCmd = &cobra.Command{
	Use:   "available [name...]",
	Short: "Probe the configured sandboxes",
	RunE:  runAvailable,
}

func runAvailable(cmd *cobra.Command, args []string) error {
	sdk, _, err := loadBridge()
	if err != nil {
		return err
	}
	names := args
	if len(names) == 0 {
		names = sdk.Names()
	}
	status, err := sdk.Availability(cmd.Context(), names...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		state := "unavailable"
		if status[name] {
			state = "available"
		}
		fmt.Fprintf(out, "%-12s %s\n", name, state)
	}
	return nil
}
