package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <stop>",
	Short: "Resolve a stop reference to candidate stop IDs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		candidates, err := engine.Resolver.Resolve(context.Background(), agencyKey, args[0])
		if err != nil {
			return err
		}

		for _, c := range candidates {
			fmt.Printf("%-16s  %s\n", c.ID, c.Name)
		}

		return nil
	},
}
