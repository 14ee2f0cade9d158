// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/v6rx/internal/config"
	"firestige.xyz/v6rx/internal/log"
)

// Version is stamped at build time with -ldflags.
var Version = "0.1.0"

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "v6rx",
	Short: "v6rx - IPv6 datagram receive engine",
	Long: `v6rx runs an IPv6 receive path over captured traffic.

Each datagram is validated, walked through its extension headers,
reassembled when fragmented, forwarded or delivered to a local transport,
and answered with ICMPv6 errors where the protocol requires one.

Features:
  - Hop-by-Hop and Destination option processing
  - Type 2 routing headers and Binding Update hand-off
  - Bounded fragment reassembly with per-source rate limiting
  - Rate-limited ICMPv6 error generation
  - Prometheus metrics`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the global config and installs the process logger.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := log.Init(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
