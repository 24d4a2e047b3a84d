// Command engram runs the memory fabric: a memory governor that classifies
// and queues observations, and a hippocampus store that persists them.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	serverURL string
	apiKey    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Two-tier memory fabric for conversational agents",
	Long: `engram runs a memory governor and hippocampus store in one process:
observations are classified for salience, deduplicated in a short-term
working store, durably queued, and written back to a pluggable long-term
memory backend.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:54323", "running engram server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for the server")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
