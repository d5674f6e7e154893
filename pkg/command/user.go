package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/chat"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

var githubLogin = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,38}$`)

const helpText = "Here are my available commands:\n\n" +
	"`register <github-username>` -- tell me who you are on GitHub\n" +
	"`stop` -- No longer get requested for reviews\n" +
	"`start` -- Become requestable again\n" +
	"`silence` or `mute` -- No longer get notifications when your PR is reviewed\n" +
	"`notify` or `unmute` -- Get notifications again\n" +
	"`status` -- get your current status/info that I have about you"

// parseGitHubName accepts a login, an @login, or a profile URL (optionally wrapped by Slack as <url|label>).
func parseGitHubName(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}

	if strings.Contains(s, "github.com") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("invalid GitHub URL %q: %w", raw, err)
		}
		s = strings.Split(strings.Trim(u.Path, "/"), "/")[0]
	}

	s = strings.TrimPrefix(s, "@")
	if !githubLogin.MatchString(s) {
		return "", fmt.Errorf("%q is not a GitHub username", raw)
	}
	return s, nil
}

func (in *Interpreter) register(ctx context.Context, req Request, args []string) error {
	login, err := parseGitHubName(args[0])
	if err != nil {
		return in.respond(ctx, req, chat.Text("That doesn't look like a GitHub username or profile link. Try `register octocat`."))
	}

	name, err := in.chat.UserName(ctx, req.ChatID)
	if err != nil {
		slog.Warn("Could not look up Slack name", "component", "command", "slack_id", req.ChatID, "error", err)
	}

	u, err := in.dir.Register(ctx, login, types.ChatIdentity{ID: req.ChatID, Name: name}, types.DefaultUser())
	if errors.Is(err, types.ErrDuplicateUser) {
		slog.Info("Duplicate registration", "component", "command", "slack_id", req.ChatID, "github", login, "error", err)
		return in.respond(ctx, req, chat.Text(fmt.Sprintf(
			"Sorry, either `%s` or your Slack account is already registered. Ask an admin if this looks wrong.", login)))
	}
	if err != nil {
		return err
	}

	return in.respond(ctx, req, chat.Text(fmt.Sprintf(
		"Welcome aboard, %s! You are registered as <https://github.com/%s|@%s> and can be requested for reviews. Say `help` to see what else I can do.",
		mention(req.ChatID), u.GitHub, u.GitHub)))
}

func (in *Interpreter) hello(ctx context.Context, req Request, _ []string) error {
	if _, ok := in.dir.FindByChatID(req.ChatID); !ok {
		return in.respond(ctx, req, chat.Text(fmt.Sprintf(
			"Hi %s! I don't know you yet. Say `register <github-username>` to get started.", mention(req.ChatID))))
	}
	return in.respond(ctx, req, chat.Text(fmt.Sprintf("Hi %s! Say `help` to see what I can do.", mention(req.ChatID))))
}

// toggle applies set to the sender and acknowledges with ack.
func (in *Interpreter) toggle(ctx context.Context, req Request, set func(context.Context, string, bool) (bool, error), v bool, ack string) error {
	ok, err := set(ctx, req.ChatID, v)
	if err != nil {
		return err
	}
	if !ok {
		return in.whisper(ctx, req, notRegistered())
	}
	return in.whisper(ctx, req, chat.Text(ack))
}

func (in *Interpreter) bench(ctx context.Context, req Request, _ []string) error {
	return in.toggle(ctx, req, in.dir.SetRequestable, false, "You are now benched and will not be requested for reviews :no_bell:")
}

func (in *Interpreter) unbench(ctx context.Context, req Request, _ []string) error {
	return in.toggle(ctx, req, in.dir.SetRequestable, true, "You are now Requestable :bell:")
}

func (in *Interpreter) mute(ctx context.Context, req Request, _ []string) error {
	return in.toggle(ctx, req, in.dir.SetNotificationsEnabled, false, "You are now muted and will not get review notifications :no_bell:")
}

func (in *Interpreter) unmute(ctx context.Context, req Request, _ []string) error {
	return in.toggle(ctx, req, in.dir.SetNotificationsEnabled, true, "You will get review notifications again :bell:")
}

func (in *Interpreter) status(ctx context.Context, req Request, _ []string) error {
	u, ok := in.dir.FindByChatID(req.ChatID)
	if !ok {
		return in.respond(ctx, req, notRegistered())
	}

	availability := "Silenced :no_bell:"
	if u.Requestable {
		availability = "Requestable :bell:"
	}
	notifications := "off"
	if u.Notifications {
		notifications = "on"
	}
	return in.respond(ctx, req, chat.Text(fmt.Sprintf(
		"You are %s here and <https://github.com/%s|@%s> on GitHub.\nYour current status is: %s. Notifications are %s.",
		mention(req.ChatID), u.GitHub, u.GitHub, availability, notifications)))
}

func (in *Interpreter) help(ctx context.Context, req Request, _ []string) error {
	return in.whisper(ctx, req, chat.Text(helpText))
}
