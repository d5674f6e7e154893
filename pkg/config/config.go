// Package config loads bot configuration from the environment, an optional .env file
// and Google Secret Manager.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/gsm"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Event sources.
const (
	SourceWebhook   = "webhook"
	SourceSprinkler = "sprinkler"
)

// Config is the process configuration.
type Config struct {
	Port               string        `env:"PORT" env-default:"8080"`
	StoreURL           string        `env:"STORE_URL" env-default:"user_list.json" env-description:"postgres:// URL or path to a JSON file"`
	LogLevel           string        `env:"LOG_LEVEL" env-default:"info"`
	EventSource        string        `env:"EVENT_SOURCE" env-default:"webhook" env-description:"webhook or sprinkler"`
	GitHubAppID        string        `env:"GITHUB_APP_ID"`
	GitHubAppKeyPath   string        `env:"GITHUB_APP_KEY_PATH"`
	GitHubAppKey       string        `env:"GITHUB_APP_KEY"`
	GitHubToken        string        `env:"GITHUB_TOKEN"`
	GitHubAPIURL       string        `env:"GITHUB_API_URL" env-default:"https://api.github.com"`
	WebhookSecret      string        `env:"GITHUB_WEBHOOK_SECRET"`
	SlackToken         string        `env:"SLACK_TOKEN"`
	SlackSigningSecret string        `env:"SLACK_SIGNING_SECRET"`
	SlackAPIURL        string        `env:"SLACK_API_URL"`
	AnnounceChannel    string        `env:"SLACK_ANNOUNCE_CHANNEL"`
	RepoDir            string        `env:"REPO_DIR" env-default:"."`
	GCPProject         string        `env:"GOOGLE_CLOUD_PROJECT"`
	CloudRunService    string        `env:"K_SERVICE"`
	Admins             []string      `env:"SLACK_ADMIN_IDS" env-separator:","`
	SprinklerOrgs      []string      `env:"SPRINKLER_ORGS" env-separator:","`
	HTTPTimeout        time.Duration `env:"HTTP_TIMEOUT" env-default:"30s"`
	RequiredReviewers  int           `env:"REQUIRED_REVIEWERS" env-default:"2"`
	RequiredApprovals  int           `env:"REQUIRED_APPROVALS" env-default:"2"`
	Silent             bool          `env:"GS_SILENT"`
	DeadSilent         bool          `env:"GS_DEAD_SILENT"`
	DryRun             bool          `env:"DRY_RUN"`
}

// fetchSecret reads a secret from Google Secret Manager.
var fetchSecret = gsm.Secret

// Load reads envFile (when present) into the environment, then the environment into a Config.
// Secrets missing from the environment are looked up in Secret Manager when running on GCP.
func Load(ctx context.Context, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading %s: %w", envFile, err)
			}
			slog.Debug("No env file", "path", envFile)
		}
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if cfg.onGCP() {
		for name, dst := range map[string]*string{
			"GITHUB_APP_KEY":        &cfg.GitHubAppKey,
			"GITHUB_TOKEN":          &cfg.GitHubToken,
			"GITHUB_WEBHOOK_SECRET": &cfg.WebhookSecret,
			"SLACK_TOKEN":           &cfg.SlackToken,
			"SLACK_SIGNING_SECRET":  &cfg.SlackSigningSecret,
		} {
			*dst = Secret(ctx, name, *dst)
		}
	}

	cfg.Admins = compact(cfg.Admins)
	cfg.SprinklerOrgs = compact(cfg.SprinklerOrgs)
	return cfg, nil
}

// Secret returns current when set, otherwise the Secret Manager value for name.
// Lookup failures are logged and yield "".
func Secret(ctx context.Context, name, current string) string {
	if current != "" {
		return current
	}
	v, err := fetchSecret(ctx, name)
	if err != nil {
		slog.Debug("Secret not available from Secret Manager", "name", name, "error", err)
		return ""
	}
	slog.Info("Loaded secret from Secret Manager", "name", name)
	return strings.TrimSpace(v)
}

func (c *Config) onGCP() bool {
	return c.GCPProject != "" || c.CloudRunService != ""
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	switch c.EventSource {
	case SourceWebhook:
	case SourceSprinkler:
		// With app auth the orgs default to the app's installations.
		if len(c.SprinklerOrgs) == 0 && !c.UseAppAuth() {
			errs = append(errs, errors.New("SPRINKLER_ORGS or GITHUB_APP_ID is required when EVENT_SOURCE=sprinkler"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENT_SOURCE must be %q or %q, got %q", SourceWebhook, SourceSprinkler, c.EventSource))
	}
	if c.SlackToken == "" {
		errs = append(errs, errors.New("SLACK_TOKEN is required"))
	}
	if c.RequiredReviewers < 1 {
		errs = append(errs, errors.New("REQUIRED_REVIEWERS must be positive"))
	}
	if c.RequiredApprovals < 1 {
		errs = append(errs, errors.New("REQUIRED_APPROVALS must be positive"))
	}
	return errors.Join(errs...)
}

// UseAppAuth reports whether GitHub App credentials were supplied.
func (c *Config) UseAppAuth() bool {
	return c.GitHubAppID != ""
}

// IsAdmin reports whether chatID may run admin commands.
func (c *Config) IsAdmin(chatID string) bool {
	return chatID != "" && slices.ContainsFunc(c.Admins, func(a string) bool { return strings.EqualFold(a, chatID) })
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Settings returns the runtime-tunable subset of the configuration.
func (c *Config) Settings() Settings {
	return Settings{
		RequiredReviewers: c.RequiredReviewers,
		RequiredApprovals: c.RequiredApprovals,
		AnnounceChannel:   c.AnnounceChannel,
		Silent:            c.Silent,
	}
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
