// Package main is the entry point for the domainmask binary.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = ""
	envFile           = ".env"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command with the serve, rewrite and check subcommands.
func newRootCmd() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "domainmask",
		Short: "Serve a hidden origin under public alias domains",
		Long: `domainmask is a reverse proxy that forwards requests for an alias domain to a
hidden target origin and rewrites every trace of the target in bodies and
headers back to the alias.

Configuration comes from an optional YAML file, a .env file in the working
directory and the environment (ALIAS_DOMAIN, TARGET_DOMAIN, ENVIRONMENT, ...).`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
			// A missing .env is normal outside local development.
			_ = godotenv.Load(envFile)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newServeCmd(), newRewriteCmd(), newCheckCmd())
	return rootCmd
}
