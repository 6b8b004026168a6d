package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elfnet/accessrl/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration file without starting the server",
	RunE:  runValidateConfig,
}

func init() {
	rootCmd.AddCommand(validateConfigCmd)
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
		return nil
	}

	if _, _, err := cfg.PolicySpecs(); err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
		return nil
	}

	source := config.ConfigFileUsed()
	if source == "" {
		source = "defaults (no config file found)"
	}
	fmt.Printf("%s: valid, %d policies configured\n", source, len(cfg.RateLimit.Policies))
	return nil
}
