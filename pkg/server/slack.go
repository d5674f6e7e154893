package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/codeGROOVE-dev/slackin/pkg/command"
)

func (s *Server) verifySlack(w http.ResponseWriter, r *http.Request, body []byte) bool {
	if s.signingSecret == "" {
		return true
	}
	sv, err := slack.NewSecretsVerifier(r.Header, s.signingSecret)
	if err == nil {
		if _, err = sv.Write(body); err == nil {
			err = sv.Ensure()
		}
	}
	if err != nil {
		slog.Warn("Rejected Slack request", "component", "slack", "path", r.URL.Path, "error", err)
		write(w, http.StatusUnauthorized, "bad signature\n")
		return false
	}
	return true
}

// handleSlackEvents receives the Events API. Direct messages are acknowledged at once and
// interpreted in the background, as Slack retries anything slower than three seconds.
func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok || !s.verifySlack(w, r, body) {
		return
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		slog.Warn("Malformed Slack event", "component", "slack", "error", err)
		write(w, http.StatusBadRequest, "malformed event\n")
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		challenge, ok := ev.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			write(w, http.StatusBadRequest, "malformed challenge\n")
			return
		}
		write(w, http.StatusOK, challenge.Challenge)
		return
	case slackevents.CallbackEvent:
	default:
		slog.Info("Slack event not handled", "component", "slack", "type", ev.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		slog.Info("Slack event not handled", "component", "slack", "type", ev.InnerEvent.Type)
		w.WriteHeader(http.StatusOK)
		return
	}
	if msg.BotID != "" || msg.SubType != "" {
		slog.Debug("Ignoring bot or edited message", "component", "slack", "subtype", msg.SubType)
		w.WriteHeader(http.StatusOK)
		return
	}
	if msg.ChannelType != "im" {
		slog.Debug("Ignoring non-DM message", "component", "slack", "channel_type", msg.ChannelType)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)

	req := command.Request{ChatID: msg.User, Channel: msg.Channel, Text: msg.Text}
	ctx := context.WithoutCancel(r.Context())
	s.metrics.RecordCommand()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				s.metrics.RecordFailure()
				slog.Error("Command handler panic", "component", "slack", "slack_id", req.ChatID, "panic", rec)
			}
		}()
		if err := s.commands.Handle(ctx, req); err != nil {
			s.metrics.RecordFailure()
			slog.Warn("Command failed", "component", "slack", "slack_id", req.ChatID, "error", err)
		}
	}()
}

// handleSlackAction acknowledges interactive actions. None are wired to behavior.
func (s *Server) handleSlackAction(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok || !s.verifySlack(w, r, body) {
		return
	}
	slog.Info("Slack action received", "component", "slack", "bytes", len(body))
	w.WriteHeader(http.StatusOK)
}
