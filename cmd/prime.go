package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var primeCmd = &cobra.Command{
	Use:   "prime",
	Short: "Run the artifact priming loops until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		engine.Start(ctx)
		<-ctx.Done()

		return nil
	},
}
