// Package commands implements the mixnetctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the client used for every request to the daemon's
	// control API, initialized in PersistentPreRunE.
	httpClient *http.Client

	// serverAddr is the mixnoded control-API address (host:port).
	serverAddr string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for mixnetctl.
var rootCmd = &cobra.Command{
	Use:   "mixnetctl",
	Short: "CLI client for the gomixnet daemon",
	Long:  "mixnetctl talks to a running mixnoded over its local control HTTP API to inspect queue state and inject test traffic.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:7777",
		"mixnoded control API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(injectCmd())
	rootCmd.AddCommand(versionCmd())
}

func controlURL(path string) string {
	return "http://" + serverAddr + path
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
