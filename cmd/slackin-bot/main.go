// Package main runs the Slackin bot: it assigns reviewers to new pull requests, keeps
// people posted about their reviews on Slack and answers chat commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codeGROOVE-dev/slackin/pkg/chat"
	"github.com/codeGROOVE-dev/slackin/pkg/command"
	"github.com/codeGROOVE-dev/slackin/pkg/config"
	"github.com/codeGROOVE-dev/slackin/pkg/directory"
	"github.com/codeGROOVE-dev/slackin/pkg/github"
	"github.com/codeGROOVE-dev/slackin/pkg/notify"
	"github.com/codeGROOVE-dev/slackin/pkg/reviewer"
	"github.com/codeGROOVE-dev/slackin/pkg/server"
	"github.com/codeGROOVE-dev/slackin/pkg/store"
)

var (
	envFile  = flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	port     = flag.String("port", "", "HTTP port (overrides PORT)")
	storeURL = flag.String("store", "", "User store: postgres:// URL or JSON file path (overrides STORE_URL)")
	dryRun   = flag.Bool("dry-run", false, "Log GitHub review requests and assignments instead of making them")
	silent   = flag.Bool("silent", false, "Do not announce startup in the announce channel")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Slack bot that assigns GitHub reviewers and reports review activity.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SLACK_TOKEN                 - Slack bot token\n")
		fmt.Fprintf(os.Stderr, "  SLACK_SIGNING_SECRET        - Slack request signing secret\n")
		fmt.Fprintf(os.Stderr, "  SLACK_ADMIN_IDS             - Comma separated Slack ids allowed to run admin commands\n")
		fmt.Fprintf(os.Stderr, "  SLACK_ANNOUNCE_CHANNEL      - Channel for startup announcements\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_ID               - GitHub App ID (enables app authentication)\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY              - GitHub App private key (or from Google Secret Manager)\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_APP_KEY_PATH         - Path to GitHub App private key file\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_TOKEN                - Personal access token when not using app authentication\n")
		fmt.Fprintf(os.Stderr, "  GITHUB_WEBHOOK_SECRET       - Webhook HMAC secret\n")
		fmt.Fprintf(os.Stderr, "  EVENT_SOURCE                - webhook (default) or sprinkler\n")
		fmt.Fprintf(os.Stderr, "  SPRINKLER_ORGS              - Comma separated orgs to stream (default: app installations)\n")
		fmt.Fprintf(os.Stderr, "  STORE_URL                   - postgres:// URL or JSON file path (default: user_list.json)\n")
		fmt.Fprintf(os.Stderr, "  GS_SILENT / GS_DEAD_SILENT  - Skip the channel / admin startup announcements\n")
		fmt.Fprintf(os.Stderr, "  PORT                        - HTTP server port (default: 8080)\n")
	}
	flag.Parse()

	if err := run(); err != nil {
		slog.Error("Bot stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *envFile)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, closeStore, err := store.Open(ctx, cfg.StoreURL)
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	defer closeStore()

	dir, err := directory.Load(ctx, st)
	if err != nil {
		return err
	}

	gh, err := github.New(ctx, github.Config{
		UseAppAuth:  cfg.UseAppAuth(),
		AppID:       cfg.GitHubAppID,
		AppKeyPath:  cfg.GitHubAppKeyPath,
		AppKey:      []byte(cfg.GitHubAppKey),
		Token:       cfg.GitHubToken,
		BaseURL:     cfg.GitHubAPIURL,
		HTTPTimeout: cfg.HTTPTimeout,
		DryRun:      cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("creating GitHub client: %w", err)
	}
	defer gh.Close()

	messenger := chat.New(chat.Config{Token: cfg.SlackToken, APIURL: cfg.SlackAPIURL}, dir)
	defer messenger.Close()
	settings := config.NewRuntime(cfg.Settings())

	orchestrator := notify.New(notify.Config{
		Directory: dir,
		Selector:  reviewer.NewSelector(dir),
		CodeHost:  gh,
		Chat:      messenger,
		Settings:  settings,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo := command.Git{Dir: cfg.RepoDir}
	interpreter := command.New(command.Config{
		Directory: dir,
		Chat:      messenger,
		Settings:  settings,
		Admins:    cfg,
		Repo:      repo,
		Shutdown:  cancel,
	})

	metrics := server.NewMetrics()
	srv := server.New(server.Config{
		Events:                 orchestrator,
		Commands:               interpreter,
		Installations:          gh,
		Metrics:                metrics,
		WebhookSecret:          cfg.WebhookSecret,
		SlackSigningSecret:     cfg.SlackSigningSecret,
		RejectAssignmentEvents: cfg.EventSource == config.SourceSprinkler,
	})
	if cfg.WebhookSecret == "" {
		slog.Warn("GITHUB_WEBHOOK_SECRET not set, webhook signatures will not be checked")
	}
	if cfg.SlackSigningSecret == "" {
		slog.Warn("SLACK_SIGNING_SECRET not set, Slack request signatures will not be checked")
	}

	if cfg.EventSource == config.SourceSprinkler {
		orgs, err := sprinklerOrgs(ctx, cfg, gh)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			m := newSprinklerMonitor(org, gh, orchestrator, metrics)
			m.start(ctx)
			defer m.stop()
		}
	}

	announce(ctx, cfg, settings, dir, messenger, repo)

	slog.Info("Slackin bot started",
		"port", cfg.Port, "event_source", cfg.EventSource, "dry_run", cfg.DryRun, "app_auth", cfg.UseAppAuth())
	if err := srv.ListenAndServe(ctx, cfg.Port); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Slackin bot stopped")
	return nil
}

// sprinklerOrgs returns the configured orgs, or every account the GitHub App is installed on.
func sprinklerOrgs(ctx context.Context, cfg *config.Config, gh *github.Client) ([]string, error) {
	if len(cfg.SprinklerOrgs) > 0 {
		return cfg.SprinklerOrgs, nil
	}
	orgs, err := gh.ListAppInstallations(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering sprinkler orgs: %w", err)
	}
	if len(orgs) == 0 {
		return nil, errors.New("GitHub App has no installations to monitor")
	}
	slog.Info("Monitoring app installations", "component", "sprinkler", "orgs", orgs)
	return orgs, nil
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "store":
			cfg.StoreURL = *storeURL
		case "dry-run":
			cfg.DryRun = *dryRun
		case "silent":
			cfg.Silent = *silent
		}
	})
}

// announce sends the availability overview to the admins and the announce channel.
func announce(ctx context.Context, cfg *config.Config, settings *config.Runtime, dir *directory.Directory,
	sender chat.Sender, repo command.Repository,
) {
	sha, err := repo.Revision(ctx)
	if err != nil {
		slog.Warn("Could not read revision", "error", err)
		sha = "unknown"
	}
	avail := dir.ListByAvailability()
	msg := command.Overview(avail, sha, "")
	slog.Info("Startup overview", "sha", sha, "available", avail.Available, "benched", avail.Benched)

	if !cfg.DeadSilent {
		for _, admin := range cfg.Admins {
			if err := sender.SendDirect(ctx, admin, msg, true); err != nil {
				slog.Warn("Failed to send startup overview to admin", "slack_id", admin, "error", err)
			}
		}
	}

	channel := settings.AnnounceChannel()
	if settings.Silent() || channel == "" {
		return
	}
	if err := sender.SendToChannel(ctx, channel, msg); err != nil {
		slog.Warn("Failed to announce startup", "channel", channel, "error", err)
	}
}
