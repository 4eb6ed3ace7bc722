// ABOUTME: The autoclose command runs one inactivity sweep outside the server
// ABOUTME: Suited to cron; --dry-run only counts the conversations that would close

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/triage-gateway/internal/autoclose"
	"github.com/2389/triage-gateway/internal/gateway"
	"github.com/2389/triage-gateway/internal/transport"
)

func newAutoCloseCmd(opts *options) *cobra.Command {
	var (
		dryRun  bool
		minutes int
	)

	cmd := &cobra.Command{
		Use:   "autoclose",
		Short: "Close conversations idle longer than bot.auto_close_minutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("minutes") {
				cfg.Bot.AutoCloseMinutes = minutes
			}
			if cfg.Bot.AutoCloseMinutes <= 0 {
				return errors.New("auto-close is disabled: set bot.auto_close_minutes or pass --minutes")
			}
			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())

			s, err := gateway.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			var sender transport.Sender
			if cfg.Bot.AutoCloseSendMessage && !dryRun {
				mux, _, err := gateway.NewSender(cfg, logger)
				if err != nil {
					return err
				}
				sender = mux
			}

			sweeper := autoclose.New(s, sender, autoclose.Config{
				After:       cfg.Bot.AutoCloseAfter(),
				BatchSize:   cfg.Bot.AutoCloseBatchSize,
				SendMessage: cfg.Bot.AutoCloseSendMessage,
			}, logger)

			started := time.Now()
			res, err := sweeper.RunOnce(cmd.Context(), dryRun)
			if err != nil {
				return fmt.Errorf("auto-close sweep: %w", err)
			}

			out := cmd.OutOrStdout()
			if res.DryRun {
				color.New(color.FgYellow).Fprint(out, "dry run: ")
				fmt.Fprintf(out, "%d conversation(s) idle for more than %d minutes\n", res.Candidates, cfg.Bot.AutoCloseMinutes)
				return nil
			}
			color.New(color.FgGreen).Fprint(out, "✓ ")
			fmt.Fprintf(out, "closed %d, skipped %d, failed %d in %s\n",
				res.Closed, res.Skipped, res.Failed, time.Since(started).Round(time.Millisecond))
			if res.Failed > 0 {
				return fmt.Errorf("%d conversation(s) failed to close", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count idle conversations without closing them")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "override bot.auto_close_minutes for this run")
	return cmd
}
