// Package cmd provides the CLI commands for accessrl.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elfnet/accessrl/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "accessrl",
	Short: "Distributed access rate limiter",
	Long: `accessrl is a distributed access rate limiter: policies are evaluated
against a shared Redis store so a limit holds across every instance of the
service it protects.

Subcommands:
  serve            run the HTTP server and apply rate limits to proxied requests
  validate-config  load and validate a configuration file without starting the server
  version          print version information`,
}

// Execute runs the root command, printing any error to stderr and exiting
// non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches accessrl.yaml or accessrl.yml in ., $HOME/.accessrl, /etc/accessrl)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
