package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"icalbot/internal/bot"
	"icalbot/internal/config"
	"icalbot/internal/dispatch"
	"icalbot/internal/filter"
	"icalbot/internal/format"
	"icalbot/internal/gateway"
	"icalbot/internal/ics"
	appLog "icalbot/internal/log"
	"icalbot/internal/membership"
	"icalbot/internal/scheduler"
	"icalbot/internal/web"
	"icalbot/internal/worker"
)

// setup loads the config and applies process-wide settings: log level,
// working directory and log file. The returned closer flushes the log
// file, if any.
func setup(flags *rootFlags) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	if cfg.WorkingDirectory != "" && cfg.WorkingDirectory != "." {
		if err := os.Chdir(cfg.WorkingDirectory); err != nil {
			return nil, nil, fmt.Errorf("change to working directory: %w", err)
		}
	}

	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		f, err := appLog.OpenFile(cfg.LogFile)
		if err != nil {
			return nil, nil, err
		}
		closer = f
	}
	return cfg, closer, nil
}

func newResponder(cfg *config.Config) (*bot.Responder, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	loader := ics.NewLoader(cfg.FeedTimeout(), ics.WithS3(cfg.Feed.S3))
	return bot.NewResponder(loader, bot.ResponderConfig{
		FeedLocation:      cfg.Webcal,
		Formatter:         format.Formatter{InfoURL: cfg.InfoURL, Location: loc},
		ExpandRecurrences: cfg.Feed.ExpandRecurrences,
		Horizon:           time.Duration(cfg.Feed.HorizonDays) * 24 * time.Hour,
	}), nil
}

// validateReminders builds a throwaway scheduler so cron and room errors
// surface before any network connection is made.
func validateReminders(cfg *config.Config) error {
	jobs, err := cfg.ReminderJobs()
	if err != nil {
		return err
	}
	_, err = scheduler.New(jobs, func(context.Context, scheduler.Firing) {}, worker.Inline{},
		scheduler.WithTransport(cfg.Transport))
	return err
}

// trialFetch loads the feed once and reports how many events it holds.
func trialFetch(ctx context.Context, r *bot.Responder) (int, error) {
	evts, err := r.Events(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	return len(evts), nil
}

func newGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.Transport {
	case gateway.TransportTelegram:
		return gateway.NewTelegram(gateway.TelegramConfig{Token: cfg.Telegram.Token, Proxy: cfg.Telegram.Proxy})
	default:
		return gateway.NewMatrix(gateway.MatrixConfig{
			Homeserver:  cfg.Homeserver,
			UserID:      cfg.Username,
			AccessToken: cfg.AccessToken,
		})
	}
}

func runBot(cmd *cobra.Command, flags *rootFlags) error {
	cfg, logCloser, err := setup(flags)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	appLog.Info("icalbot starting", "version", version, "transport", cfg.Transport)
	cfg.Print(cmd.ErrOrStderr())

	if err := validateReminders(cfg); err != nil {
		return err
	}
	appLog.Info("reminders validated", "count", len(cfg.Reminders))

	responder, err := newResponder(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Webcal == "" {
		appLog.Info("no webcal URL configured; commands will say so")
	} else if n, err := trialFetch(ctx, responder); err != nil {
		appLog.Error("initial calendar fetch failed", err, "feed", ics.RedactURL(cfg.Webcal))
	} else {
		appLog.Info("initial calendar fetch succeeded", "events", n)
	}

	gw, err := newGateway(cfg)
	if err != nil {
		return err
	}

	workers := worker.New(ctx, cfg.Workers)
	engine := dispatch.New(gw)
	joins := membership.New(gw.UserID(), gw, workers)
	policy := filter.NewPolicy(cfg.IgnoreSelf(), cfg.BotFiltering.IgnoreBots, cfg.BotFiltering.IgnoredUsers)
	disp := bot.NewDispatcher(gw.UserID(), policy, responder, engine, workers, joins)

	jobs, err := cfg.ReminderJobs()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(jobs, disp.FireReminder, workers,
		scheduler.WithLocation(loc),
		scheduler.WithTransport(cfg.Transport),
	)
	if err != nil {
		return err
	}
	sched.Start(ctx)

	services := pool.New().WithContext(ctx).WithCancelOnError()
	services.Go(func(ctx context.Context) error {
		return gw.Run(ctx, disp)
	})
	if cfg.Web.Listen != "" {
		srv := web.NewServer(cfg.Web, responder, sched, joins)
		services.Go(srv.Run)
	}
	runErr := services.Wait()

	appLog.Info("shutting down")
	sched.Stop()
	joins.Stop()
	workers.Close()
	appLog.Info("icalbot exiting")
	return runErr
}
