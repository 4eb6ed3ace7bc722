// ABOUTME: Sector management commands: add a routing destination or list the directory
// ABOUTME: Validation is shared with the admin API through sectors.Directory.Create

package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/triage-gateway/internal/gateway"
	"github.com/2389/triage-gateway/internal/sectors"
	"github.com/2389/triage-gateway/internal/store"
)

func newSectorCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sector",
		Short: "Manage sectors",
	}
	cmd.AddCommand(newSectorAddCmd(opts), newSectorListCmd(opts))
	return cmd
}

func newSectorAddCmd(opts *options) *cobra.Command {
	var (
		slug     string
		menuCode string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a sector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			s, err := gateway.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			dir := sectors.New(cfg.Bot.ReceptionSector, slog.New(slog.NewTextHandler(io.Discard, nil)))
			sector, err := dir.Create(cmd.Context(), s, args[0], slug, menuCode, !inactive)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "created sector %s (%s, menu %s)\n", sector.Name, sector.ID, sector.MenuCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "routing slug, e.g. financeiro (required)")
	cmd.Flags().StringVar(&menuCode, "menu-code", "", "menu option digits (required)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the sector hidden from the menu")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("menu-code")
	return cmd
}

func newSectorListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sectors",
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

			list, err := s.ListSectors(cmd.Context())
			if err != nil {
				return err
			}
			writeSectors(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func writeSectors(out io.Writer, list []*store.Sector) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MENU\tSLUG\tNAME\tACTIVE\tID")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", s.MenuCode, s.Slug, s.Name, s.Active, s.ID)
	}
	_ = tw.Flush()
}
