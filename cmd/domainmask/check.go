package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/polisai/domainmask/pkg/config"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	labelColor = color.New(color.FgCyan)
	dimColor   = color.New(color.Faint)
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the resolved domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				errColor.Fprintln(cmd.ErrOrStderr(), "✗ configuration invalid")
				return err
			}
			return printCheck(cmd.OutOrStdout(), cfg)
		},
	}
}

func printCheck(w io.Writer, cfg *config.Config) error {
	domains, err := cfg.Mask.Domains()
	if err != nil {
		errColor.Fprintln(w, "✗ configuration invalid")
		return err
	}

	okColor.Fprintln(w, "✓ configuration valid")
	field := func(label, value string) {
		labelColor.Fprintf(w, "  %-20s", label)
		fmt.Fprintln(w, value)
	}

	for _, alias := range domains.Aliases {
		field("alias", alias.String())
	}
	field("target", domains.Target.String())
	field("environment", cfg.Mask.Environment)
	field("cookie domain mode", string(cfg.Mask.CookieMode()))
	field("pass through errors", fmt.Sprintf("%t", cfg.Mask.PassThroughErrors))
	timeouts := cfg.Mask.Timeouts()
	field("upstream timeout", timeouts.RequestTimeout.String())
	field("idle timeout", timeouts.IdleTimeout.String())
	field("data address", cfg.Server.DataAddress)
	field("admin address", cfg.Server.AdminAddress)

	analytics := cfg.Mask.AnalyticsHostSet()
	field("analytics hosts", fmt.Sprintf("%d", len(analytics)))
	for _, host := range analytics {
		dimColor.Fprintf(w, "    %s\n", host)
	}
	return nil
}
