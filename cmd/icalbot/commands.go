package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"icalbot/internal/config"
	"icalbot/internal/ics"
	"icalbot/internal/model"
)

func newCheckCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and reminders, then try fetching the feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logCloser, err := setup(flags)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			out := cmd.OutOrStdout()
			cfg.Print(out)

			if err := validateReminders(cfg); err != nil {
				return err
			}
			if len(cfg.Reminders) == 0 {
				fmt.Fprintln(out, "No reminders configured")
			} else {
				fmt.Fprintf(out, "Validated %d reminder(s)\n", len(cfg.Reminders))
			}

			if cfg.Webcal == "" {
				fmt.Fprintln(out, "No webcal URL configured")
				return nil
			}
			r, err := newResponder(cfg)
			if err != nil {
				return err
			}
			n, err := trialFetch(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ics.RedactURL(cfg.Webcal), err)
			}
			fmt.Fprintf(out, "Calendar OK: %d event(s)\n", n)
			return nil
		},
	}
}

func newUpcomingCmd(flags *rootFlags) *cobra.Command {
	var (
		all   bool
		limit int
		until string
	)
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Print the reply the bot would give to !meeting (or !meetings with --all)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bound, err := model.ParseBound(until)
			if err != nil {
				return fmt.Errorf("invalid --until %q: %w", until, err)
			}

			cfg, logCloser, err := setup(flags)
			if err != nil {
				return err
			}
			defer logCloser.Close()

			r, err := newResponder(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if limit == 0 && until == "" {
				kind := model.NextMeeting
				if all {
					kind = model.AllUpcoming
				}
				fmt.Fprint(out, r.Respond(cmd.Context(), kind))
				return nil
			}

			evts, err := r.Upcoming(cmd.Context(), limit, bound)
			if err != nil {
				return err
			}
			fmt.Fprint(out, r.Formatter().Multiple(evts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List every upcoming event")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events to list")
	cmd.Flags().StringVar(&until, "until", "", "Only list events starting at or before this time (YYYYMMDDTHHMMSSZ or RFC 3339)")
	return cmd
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists: %s (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created config: %s\n", path)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Edit %s to set homeserver, username and access_token\n", path)
			fmt.Fprintln(out, "  2. Or set ICALBOT_ACCESS_TOKEN in the environment or a .env file")
			fmt.Fprintln(out, "  3. Run 'icalbot check' to verify")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
