package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Tally is a checkpointed estimation workflow engine",
	Long: `Tally runs deliverable lists through analysis, effort estimation,
pricing, and report generation, suspending for human answers and
approval along the way. Sessions are durable: interrupt a run and
resume it later from its last checkpoint.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
}

// newApp builds the App from the --config flag plus any extra options.
func newApp(cmd *cobra.Command, opts ...tally.Option) (*tally.App, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		opts = append([]tally.Option{tally.WithConfigFile(path)}, opts...)
	}
	return tally.New(opts...)
}
