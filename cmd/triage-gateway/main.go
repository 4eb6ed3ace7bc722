// ABOUTME: Entry point for the triage-gateway service and its operator commands
// ABOUTME: Builds the cobra command tree and resolves the config file location

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/triage-gateway/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _        _                                     _
| |_ _ __(_) __ _  __ _  ___        __ _  __ _| |_ _____      ____ _ _   _
| __| '__| |/ _' |/ _' |/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_| |  | | (_| | (_| |  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__|_|  |_|\__,_|\__, |\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                  |___/            |___/                             |___/
`

// options holds flags shared by every subcommand.
type options struct {
	configPath string
}

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > TRIAGE_CONFIG env var > XDG_CONFIG_HOME/triage/gateway.yaml > ~/.config/triage/gateway.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("TRIAGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "triage", "gateway.yaml")
}

func (o *options) load() (*config.Config, string, error) {
	path := getConfigPath(o.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "triage-gateway",
		Short:         "WhatsApp triage and queueing service",
		Long:          "Receives citizen messages, routes them to a municipal sector through menus,\nkeywords or an AI classifier, and queues them for staff.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to gateway.yaml (default: $TRIAGE_CONFIG or $XDG_CONFIG_HOME/triage/gateway.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newAutoCloseCmd(opts),
		newSeedCmd(opts),
		newSectorCmd(opts),
		newUserCmd(opts),
		newHealthCmd(opts),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
