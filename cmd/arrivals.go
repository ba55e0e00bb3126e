package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	transit "github.com/AmanAhmed2002/TTCFareSite"
)

var (
	arrivalsLimit int
	arrivalsRoute string
	arrivalsFrom  string
)

func init() {
	arrivalsCmd.Flags().IntVarP(&arrivalsLimit, "limit", "n", 3, "Maximum number of arrivals")
	arrivalsCmd.Flags().StringVarP(&arrivalsRoute, "route", "r", "", "Route reference filter (prefix match)")
	arrivalsCmd.Flags().StringVarP(&arrivalsFrom, "from", "f", "", "Query time, RFC 3339 (default now)")
}

var arrivalsCmd = &cobra.Command{
	Use:   "arrivals <stop>",
	Short: "Next arrivals at a stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}

		opts := transit.Options{
			Limit:    arrivalsLimit,
			RouteRef: arrivalsRoute,
		}
		if arrivalsFrom != "" {
			from, err := time.Parse(time.RFC3339, arrivalsFrom)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			opts.From = from
		}

		arrivals, err := engine.NextArrivals(context.Background(), agencyKey, args[0], opts)
		if err != nil {
			return err
		}

		for _, a := range arrivals {
			source := "scheduled"
			if a.Realtime {
				source = "live"
			}
			fmt.Printf("%-8s  %-24s  %s  (%s)\n", a.Route, a.Headsign, a.Time.Format(time.RFC3339), source)
		}

		return nil
	},
}
