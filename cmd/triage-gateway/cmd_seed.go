// ABOUTME: The seed command creates the configured sectors and the reception sector
// ABOUTME: Existing sectors are matched by slug and left untouched

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/2389/triage-gateway/internal/gateway"
	"github.com/2389/triage-gateway/internal/sectors"
)

func newSeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the sectors listed in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			s, err := gateway.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			created, err := sectors.New(cfg.Bot.ReceptionSector, logger).Seed(cmd.Context(), s, cfg.Sectors)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d sector(s)\n", created)
			return nil
		},
	}
}
