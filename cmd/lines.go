package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var linesWindow time.Duration

func init() {
	linesCmd.Flags().DurationVarP(&linesWindow, "window", "w", time.Hour, "Forward window")
}

var linesCmd = &cobra.Command{
	Use:   "lines <stop>",
	Short: "Routes serving a stop within a window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		lines, err := engine.ActiveLines(context.Background(), agencyKey, args[0], linesWindow)
		if err != nil {
			return err
		}

		for _, line := range lines {
			fmt.Println(line)
		}

		return nil
	},
}
