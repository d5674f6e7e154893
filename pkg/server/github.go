package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/codeGROOVE-dev/slackin/pkg/github"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// handleGitHub receives GitHub webhooks. Events are handled synchronously so GitHub's
// delivery log shows failures; there is no automatic replay.
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")

	if s.webhookSecret != "" {
		if err := github.VerifySignature(s.webhookSecret, body,
			r.Header.Get("X-Hub-Signature-256"), r.Header.Get("X-Hub-Signature")); err != nil {
			slog.Warn("Rejected webhook", "component", "http", "event", eventType, "delivery", delivery, "error", err)
			write(w, http.StatusUnauthorized, "bad signature\n")
			return
		}
	}

	if eventType == github.EventPing {
		write(w, http.StatusOK, "pong")
		return
	}

	ev, err := github.ParseWebhook(eventType, delivery, body)
	switch {
	case errors.Is(err, github.ErrUnsupportedEvent):
		slog.Info("Unsupported webhook event", "component", "http", "event", eventType, "delivery", delivery)
		write(w, http.StatusNotAcceptable, "Not supported\n")
		return
	case errors.Is(err, github.ErrUnhandledAction):
		slog.Debug("Ignoring webhook action", "component", "http", "event", eventType, "delivery", delivery, "error", err)
		write(w, http.StatusAccepted, "ignored\n")
		return
	case err != nil:
		slog.Warn("Malformed webhook", "component", "http", "event", eventType, "delivery", delivery, "error", err)
		write(w, http.StatusBadRequest, "malformed payload\n")
		return
	}

	if s.rejectAssign && ev.Action == types.ActionOpened {
		slog.Info("Ignoring webhook assignment event; sprinkler drives assignment",
			"component", "http", "delivery", delivery, "owner", ev.PR.Owner, "repo", ev.PR.Repository, "pr", ev.PR.Number)
		write(w, http.StatusNotAcceptable, "assignment is driven by the event stream\n")
		return
	}

	if s.installations != nil && ev.PR.InstallationID != 0 && ev.PR.Owner != "" {
		s.installations.RememberInstallation(ev.PR.Owner, ev.PR.InstallationID)
	}

	s.metrics.RecordEvent(ev.PR)
	if err := s.events.Handle(r.Context(), *ev); err != nil {
		s.metrics.RecordFailure()
		inc := types.NewIncident("webhook "+string(ev.Action), err)
		slog.Error("Failed to handle webhook", "component", "http", "delivery", delivery, "incident", inc.ID, "error", err)
		write(w, http.StatusInternalServerError, fmt.Sprintf("failed (ref %s)\n", inc.ID))
		return
	}

	write(w, http.StatusOK, "ok\n")
}
