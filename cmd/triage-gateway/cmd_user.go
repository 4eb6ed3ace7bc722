// ABOUTME: Staff user commands: add an agent or admin, list users
// ABOUTME: A sector may be given by slug; it becomes the agent's home sector

package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/triage-gateway/internal/gateway"
	"github.com/2389/triage-gateway/internal/lifecycle"
	"github.com/2389/triage-gateway/internal/store"
)

func newUserCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff users",
	}
	cmd.AddCommand(newUserAddCmd(opts), newUserListCmd(opts))
	return cmd
}

func newUserAddCmd(opts *options) *cobra.Command {
	var (
		email  string
		role   string
		sector string
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a staff user",
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

			nu := lifecycle.NewUser{Name: args[0], Email: email, Role: store.UserRole(role)}
			if sector != "" {
				sec, err := s.GetSectorBySlug(cmd.Context(), sector)
				if err != nil {
					return fmt.Errorf("sector %q: %w", sector, err)
				}
				nu.SectorID = sec.ID
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			user, err := lifecycle.New(s, cfg.Bot.ReopenWindow(), logger).CreateUser(cmd.Context(), nu)
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "login email (required)")
	cmd.Flags().StringVar(&role, "role", string(store.RoleAgent), "admin or agent")
	cmd.Flags().StringVar(&sector, "sector", "", "home sector slug")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newUserListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staff users",
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

			users, err := s.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EMAIL\tNAME\tROLE\tSECTOR\tACTIVE\tID")
			for _, u := range users {
				sectorID := "-"
				if u.SectorID != nil {
					sectorID = *u.SectorID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n", u.Email, u.Name, u.Role, sectorID, u.Active, u.ID)
			}
			return tw.Flush()
		},
	}
}
