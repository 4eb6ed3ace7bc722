// ABOUTME: The serve command: prints the banner and runs the gateway until a signal arrives
// ABOUTME: Startup lines summarize the listener and enabled transports

package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/triage-gateway/internal/config"
	"github.com/2389/triage-gateway/internal/gateway"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			color.New(color.FgCyan).Fprint(out, banner)
			color.New(color.FgHiBlack).Fprintf(out, "    version: %s\n\n", version)

			cfg, configPath, err := opts.load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, out)
			printStartup(out, cfg, configPath)

			logger.Info("starting triage-gateway",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
			)

			gw, err := gateway.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printStartup(out io.Writer, cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	line("Database", cfg.Database.Path)
	if cfg.WhatsApp.Enabled {
		line("WhatsApp", cfg.WhatsApp.Instance)
	}
	if cfg.Matrix.Enabled {
		line("Matrix", cfg.Matrix.UserID)
	}
	if cfg.Bot.AIRouting.Enabled {
		line("AI", cfg.Bot.AIRouting.Provider+" "+cfg.Bot.AIRouting.Model)
	}

	if cfg.Tailscale.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, "Tailscale: ")
		cyan.Fprint(out, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(out, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(out, " (ephemeral)")
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)
}
