// Package cmd defines the CLI commands for the webextract executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webextract",
		Short: "Adaptive web data extraction service",
		Long: `webextract runs an adaptive extraction pipeline: submitted URL jobs are
batched through a priority queue, each page is analyzed and matched to an
extraction strategy, and results are normalized, stored, and fed back into
a learning store that improves future strategy selection.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus WEBEXTRACT_* env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSubmitCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
