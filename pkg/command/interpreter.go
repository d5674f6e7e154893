// Package command interprets direct messages sent to the bot.
//
// Commands are matched case-insensitively against an ordered table; the first match wins.
// Text that matches no user command falls through to the admin table, which is only open
// to the configured admins.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/chat"
	"github.com/codeGROOVE-dev/slackin/pkg/config"
	"github.com/codeGROOVE-dev/slackin/pkg/directory"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Directory is the subset of the user directory commands touch.
type Directory interface {
	FindByChatID(id string) (types.User, bool)
	Register(ctx context.Context, github string, chat types.ChatIdentity, defaults types.UserDefaults) (types.User, error)
	SetRequestable(ctx context.Context, chatID string, requestable bool) (bool, error)
	SetNotificationsEnabled(ctx context.Context, chatID string, enabled bool) (bool, error)
	ListByAvailability() directory.Availability
}

// Chat sends replies and resolves Slack profile names.
type Chat interface {
	chat.Sender
	UserName(ctx context.Context, chatID string) (string, error)
}

// Settings are the runtime knobs shown and changed by `config`.
type Settings interface {
	JSON() string
	Merge(raw []byte) (config.Settings, error)
}

// Authorizer decides who may run admin commands.
type Authorizer interface {
	IsAdmin(chatID string) bool
}

// Repository reports and updates the running checkout.
type Repository interface {
	Revision(ctx context.Context) (string, error)
	Update(ctx context.Context, branch string) (string, error)
}

// Request is one direct message.
type Request struct {
	ChatID  string
	Channel string
	Text    string
}

// Config wires an Interpreter.
type Config struct {
	Directory Directory
	Chat      Chat
	Settings  Settings
	Admins    Authorizer
	Repo      Repository
	Shutdown  func() // called after `update` and `shutdown`
}

// handler has the receiver first so methods can be used as method expressions.
type handler func(in *Interpreter, ctx context.Context, req Request, args []string) error

type route struct {
	pattern *regexp.Regexp
	run     handler
	name    string
}

// Interpreter dispatches requests to command handlers.
type Interpreter struct {
	dir      Directory
	chat     Chat
	settings Settings
	admins   Authorizer
	repo     Repository
	shutdown func()
}

// New returns an Interpreter.
func New(cfg Config) *Interpreter {
	shutdown := cfg.Shutdown
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Interpreter{
		dir:      cfg.Directory,
		chat:     cfg.Chat,
		settings: cfg.Settings,
		admins:   cfg.Admins,
		repo:     cfg.Repo,
		shutdown: shutdown,
	}
}

func newRoute(name, pattern string, run handler) route {
	return route{name: name, pattern: regexp.MustCompile(`(?is)^` + pattern + `$`), run: run}
}

var userRoutes = []route{
	newRoute("register", `register\s+(\S+)`, (*Interpreter).register),
	newRoute("ping", `ping`, reply("pong")),
	newRoute("marco", `marco`, reply("polo")),
	newRoute("hello", `(?:hello|hi)`, (*Interpreter).hello),
	newRoute("stop", `stop`, (*Interpreter).bench),
	newRoute("mute", `(?:silence|mute)`, (*Interpreter).mute),
	newRoute("start", `start`, (*Interpreter).unbench),
	newRoute("unmute", `(?:notify|unmute)`, (*Interpreter).unmute),
	newRoute("status", `status`, (*Interpreter).status),
	newRoute("help", `help`, (*Interpreter).help),
	newRoute("more-reviewers", `(?:prpls\s+)?<?https://github\.com/[\w.-]+/[\w.-]+/pull/\d+(?:\|[^>]*)?>?`, reply("Sorry, I cannot currently add more reviewers")),
}

// Admin routes. `config set` precedes `config`.
var adminRoutes = []route{
	newRoute("echo", `echo\s+(.+)`, (*Interpreter).echo),
	newRoute("config-set", `config\s+set\s+(.+)`, (*Interpreter).configSet),
	newRoute("config", `config`, (*Interpreter).showConfig),
	newRoute("overview", `overview`, (*Interpreter).overview),
	newRoute("bench", `bench\s+<@(\w+)(?:\|[^>]*)?>`, (*Interpreter).benchOther),
	newRoute("unbench", `unbench\s+<@(\w+)(?:\|[^>]*)?>`, (*Interpreter).unbenchOther),
	newRoute("update", `update(?:\s+([\w./-]+))?`, (*Interpreter).update),
	newRoute("shutdown", `shutdown`, (*Interpreter).shutdownNow),
}

func match(routes []route, text string) (route, []string, bool) {
	for _, r := range routes {
		if m := r.pattern.FindStringSubmatch(text); m != nil {
			return r, m[1:], true
		}
	}
	return route{}, nil, false
}

// Handle runs the command in req and replies in req.Channel. Failures are shown to the
// sender with a correlation id and returned as a *types.Incident.
func (in *Interpreter) Handle(ctx context.Context, req Request) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil
	}

	r, args, ok := match(userRoutes, text)
	if !ok {
		r, args, ok = match(adminRoutes, text)
		if !in.isAdmin(req.ChatID) {
			slog.Info("Rejected admin command", "component", "command", "slack_id", req.ChatID, "known", ok)
			return in.whisper(ctx, req, chat.Text("This command is Admin-only"))
		}
		if !ok {
			return in.respond(ctx, req, chat.Text("Sorry, I don't know that one. Say `help` to see what I can do."))
		}
	}

	slog.Info("Running command", "component", "command", "command", r.name, "slack_id", req.ChatID)
	if err := r.run(in, ctx, req, args); err != nil {
		inc := types.NewIncident("command "+r.name, err)
		slog.Error("Command failed", "component", "command", "command", r.name, "slack_id", req.ChatID,
			"incident", inc.ID, "error", err)
		if rerr := in.respond(ctx, req, chat.Text(inc.UserMessage())); rerr != nil {
			slog.Warn("Failed to report command failure", "component", "command", "incident", inc.ID, "error", rerr)
		}
		return inc
	}
	return nil
}

func (in *Interpreter) isAdmin(chatID string) bool {
	return in.admins != nil && in.admins.IsAdmin(chatID)
}

func (in *Interpreter) respond(ctx context.Context, req Request, msg chat.Message) error {
	return in.chat.SendToChannel(ctx, req.Channel, msg)
}

func (in *Interpreter) whisper(ctx context.Context, req Request, msg chat.Message) error {
	return in.chat.SendEphemeral(ctx, req.Channel, req.ChatID, msg)
}

func reply(text string) handler {
	return func(in *Interpreter, ctx context.Context, req Request, _ []string) error {
		return in.respond(ctx, req, chat.Text(text))
	}
}

func notRegistered() chat.Message {
	return chat.Text("I don't know you yet. Say `register <github-username>` first.")
}

func mention(chatID string) string {
	return fmt.Sprintf("<@%s>", chatID)
}
