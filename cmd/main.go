package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	transit "github.com/AmanAhmed2002/TTCFareSite"
)

var rootCmd = &cobra.Command{
	Use:          "transit",
	Short:        "Transit arrival engine",
	Long:         "Resolves next vehicle arrivals from static schedules and realtime feeds",
	SilenceUsage: true,
}

var (
	configPath string
	agencyKey  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&agencyKey, "agency", "a", "ttc", "Agency key")
	rootCmd.AddCommand(arrivalsCmd)
	rootCmd.AddCommand(linesCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(primeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func buildEngine() (*transit.Engine, error) {
	cfg, err := transit.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.New(os.Stderr, "transit ", log.LstdFlags|log.Lmicroseconds)

	return transit.NewEngine(cfg, agencyKey, logger)
}
