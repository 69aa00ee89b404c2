// Command sip2gate runs the SIP2 gateway: a JSON HTTP front over one or
// more SIP2 library systems.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "sip2gate",
	Short:         "HTTP to SIP2 protocol gateway",
	Long:          "sip2gate fronts legacy SIP2 library systems with a JSON HTTP API,\nserializing requests per branch behind a circuit breaker and masking\npatron identifiers before anything is logged.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sip2gate %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: ./sip2gate.yaml, /etc/sip2gate/sip2gate.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
