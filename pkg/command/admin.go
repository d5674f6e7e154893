package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/chat"
	"github.com/codeGROOVE-dev/slackin/pkg/directory"
)

const defaultBranch = "main"

func (in *Interpreter) echo(ctx context.Context, req Request, args []string) error {
	return in.respond(ctx, req, chat.Text(args[0]))
}

func (in *Interpreter) showConfig(ctx context.Context, req Request, _ []string) error {
	if in.settings == nil {
		return errors.New("no runtime settings configured")
	}
	return in.respond(ctx, req, chat.Text("```"+in.settings.JSON()+"```"))
}

func (in *Interpreter) configSet(ctx context.Context, req Request, args []string) error {
	if in.settings == nil {
		return errors.New("no runtime settings configured")
	}
	// Slack wraps pasted JSON in a code span or block.
	raw := strings.Trim(strings.TrimSpace(args[0]), "`")
	if _, err := in.settings.Merge([]byte(raw)); err != nil {
		slog.Info("Rejected settings change", "component", "command", "slack_id", req.ChatID, "error", err)
		return in.respond(ctx, req, chat.Text(fmt.Sprintf("Settings unchanged: %s", err)))
	}
	slog.Info("Settings changed", "component", "command", "slack_id", req.ChatID, "settings", in.settings.JSON())
	return in.respond(ctx, req, chat.Text("Settings updated:\n```"+in.settings.JSON()+"```"))
}

func (in *Interpreter) overview(ctx context.Context, req Request, _ []string) error {
	return in.respond(ctx, req, Overview(in.dir.ListByAvailability(), in.revision(ctx), ""))
}

func (in *Interpreter) benchOther(ctx context.Context, req Request, args []string) error {
	return in.setOther(ctx, req, args[0], false)
}

func (in *Interpreter) unbenchOther(ctx context.Context, req Request, args []string) error {
	return in.setOther(ctx, req, args[0], true)
}

func (in *Interpreter) setOther(ctx context.Context, req Request, target string, requestable bool) error {
	ok, err := in.dir.SetRequestable(ctx, target, requestable)
	if err != nil {
		return err
	}
	if !ok {
		return in.respond(ctx, req, chat.Text(fmt.Sprintf("I don't know %s. They need to `register` first.", mention(target))))
	}

	notice := fmt.Sprintf("%s benched you. You will not be requested for reviews until you say `start`. :no_bell:", mention(req.ChatID))
	state := "benched"
	if requestable {
		notice = fmt.Sprintf("%s made you requestable for reviews again. :bell:", mention(req.ChatID))
		state = "requestable"
	}
	if err := in.chat.SendDirect(ctx, target, chat.Text(notice), true); err != nil {
		slog.Warn("Failed to notify user of availability change", "component", "command", "slack_id", target, "error", err)
		return in.respond(ctx, req, chat.Text(fmt.Sprintf("%s is now %s, but I could not tell them.", mention(target), state)))
	}
	return in.respond(ctx, req, chat.Text(fmt.Sprintf("%s is now %s.", mention(target), state)))
}

func (in *Interpreter) update(ctx context.Context, req Request, args []string) error {
	if in.repo == nil {
		return errors.New("no repository configured")
	}
	branch := defaultBranch
	if len(args) > 0 && args[0] != "" {
		branch = args[0]
	}

	if err := in.respond(ctx, req, chat.Text(fmt.Sprintf("Updating to the latest `%s`...", branch))); err != nil {
		slog.Warn("Failed to acknowledge update", "component", "command", "error", err)
	}
	sha, err := in.repo.Update(ctx, branch)
	if err != nil {
		return fmt.Errorf("updating to %s: %w", branch, err)
	}

	slog.Info("Updated checkout, shutting down for restart", "component", "command", "branch", branch, "sha", sha)
	err = in.respond(ctx, req, chat.Text(fmt.Sprintf("Updated to `%s`. Restarting!", sha)))
	in.shutdown()
	return err
}

func (in *Interpreter) shutdownNow(ctx context.Context, req Request, _ []string) error {
	slog.Info("Shutdown requested", "component", "command", "slack_id", req.ChatID)
	err := in.respond(ctx, req, chat.Text("Shutting down!"))
	in.shutdown()
	return err
}

func (in *Interpreter) revision(ctx context.Context) string {
	if in.repo == nil {
		return "unknown"
	}
	sha, err := in.repo.Revision(ctx)
	if err != nil {
		slog.Warn("Could not read revision", "component", "command", "error", err)
		return "unknown"
	}
	return sha
}

// Overview is the availability report sent at boot and by the `overview` command.
// An empty text uses the default online banner.
func Overview(a directory.Availability, sha, text string) chat.Message {
	if text == "" {
		text = fmt.Sprintf("Slackin: ONLINE. SHA `%s`", sha)
	}
	return chat.Message{
		Text: text,
		Attachments: []chat.Attachment{
			{Color: chat.ColorGood, Fields: []chat.Field{{Title: "Available Users", Value: names(a.Available)}}},
			{Color: chat.ColorWarning, Fields: []chat.Field{{Title: "Benched Users", Value: names(a.Benched)}}},
		},
	}
}

func names(list []string) string {
	if len(list) == 0 {
		return "None"
	}
	return strings.Join(list, ", ")
}
