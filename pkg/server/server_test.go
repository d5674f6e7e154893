package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/slackin/pkg/command"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

type fakeEvents struct {
	err    error
	events []types.Event
	mu     sync.Mutex
}

func (f *fakeEvents) Handle(_ context.Context, ev types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

type fakeCommands struct {
	err  error
	reqs []command.Request
	mu   sync.Mutex
}

func (f *fakeCommands) Handle(ctx context.Context, req command.Request) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

type fakeInstallations map[string]int64

func (f fakeInstallations) RememberInstallation(owner string, id int64) { f[owner] = id }

const webhookSecret = "hook-secret"

const openedPayload = `{
  "action": %q,
  "installation": {"id": 77},
  "repository": {"name": "widgets", "owner": {"login": "acme"}},
  "pull_request": {
    "number": 3,
    "title": "add widgets",
    "html_url": "https://github.com/acme/widgets/pull/3",
    "user": {"login": "alice"}
  }
}`

func githubRequest(t *testing.T, event, body, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payload", strings.NewReader(body))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	if secret != "" {
		m := hmac.New(sha256.New, []byte(secret))
		m.Write([]byte(body))
		req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(m.Sum(nil)))
	}
	return req
}

func TestGitHubWebhook(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		body       string
		secret     string
		handlerErr error
		reject     bool
		wantStatus int
		wantBody   string
		wantEvents int
	}{
		{name: "opened", event: "pull_request", body: fmt.Sprintf(openedPayload, "opened"), secret: webhookSecret, wantStatus: http.StatusOK, wantEvents: 1},
		{name: "ping", event: "ping", body: `{"zen":"hi"}`, secret: webhookSecret, wantStatus: http.StatusOK, wantBody: "pong"},
		{name: "bad signature", event: "pull_request", body: fmt.Sprintf(openedPayload, "opened"), secret: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "unsigned", event: "pull_request", body: fmt.Sprintf(openedPayload, "opened"), wantStatus: http.StatusUnauthorized},
		{name: "unsupported event", event: "issues", body: `{"action":"opened"}`, secret: webhookSecret, wantStatus: http.StatusNotAcceptable},
		{name: "unhandled action", event: "pull_request", body: fmt.Sprintf(openedPayload, "labeled"), secret: webhookSecret, wantStatus: http.StatusAccepted},
		{name: "malformed", event: "pull_request", body: `{`, secret: webhookSecret, wantStatus: http.StatusBadRequest},
		{name: "handler failure", event: "pull_request", body: fmt.Sprintf(openedPayload, "opened"), secret: webhookSecret,
			handlerErr: types.ErrInsufficientCandidates, wantStatus: http.StatusInternalServerError, wantBody: "failed (ref ", wantEvents: 1},
		{name: "assignment rejected in stream mode", event: "pull_request", body: fmt.Sprintf(openedPayload, "opened"), secret: webhookSecret,
			reject: true, wantStatus: http.StatusNotAcceptable},
		{name: "closed still handled in stream mode", event: "pull_request", body: fmt.Sprintf(openedPayload, "closed"), secret: webhookSecret,
			reject: true, wantStatus: http.StatusOK, wantEvents: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{err: tt.handlerErr}
			installs := fakeInstallations{}
			s := New(Config{Events: events, Installations: installs, WebhookSecret: webhookSecret, RejectAssignmentEvents: tt.reject})

			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, githubRequest(t, tt.event, tt.body, tt.secret))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if len(events.events) != tt.wantEvents {
				t.Fatalf("handled %d events, want %d", len(events.events), tt.wantEvents)
			}
			if tt.wantEvents == 0 {
				return
			}
			ev := events.events[0]
			if ev.PR.Owner != "acme" || ev.PR.Number != 3 || ev.DeliveryID != "delivery-1" {
				t.Errorf("event = %+v", ev)
			}
			if installs["acme"] != 77 {
				t.Errorf("installation not remembered: %v", installs)
			}
			st := s.metrics.Stats()
			if st.Events != 1 || st.PRsSeen != 1 || st.Owners != 1 {
				t.Errorf("stats = %+v", st)
			}
			if (tt.handlerErr != nil) != (st.Failures == 1) {
				t.Errorf("failures = %d", st.Failures)
			}
		})
	}
}

func TestGitHubWebhook_NoSecretConfigured(t *testing.T) {
	events := &fakeEvents{}
	s := New(Config{Events: events})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, githubRequest(t, "pull_request", fmt.Sprintf(openedPayload, "synchronize"), ""))
	if rec.Code != http.StatusOK || len(events.events) != 1 {
		t.Fatalf("status = %d, events = %d", rec.Code, len(events.events))
	}
	if events.events[0].Action != types.ActionSynchronize {
		t.Errorf("action = %s", events.events[0].Action)
	}
}

const signingSecret = "slack-signing"

func slackRequest(t *testing.T, path, body, secret string, ts time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	stamp := strconv.FormatInt(ts.Unix(), 10)
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte("v0:" + stamp + ":" + body))
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(m.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func messageEvent(user, text, channelType, extra string) string {
	return fmt.Sprintf(`{
  "token": "tok",
  "team_id": "T1",
  "api_app_id": "A1",
  "type": "event_callback",
  "event_id": "Ev1",
  "event_time": 1700000000,
  "event": {"type": "message", "user": %q, "text": %q, "channel": "D42", "channel_type": %q, "ts": "1.2"%s}
}`, user, text, channelType, extra)
}

func TestSlackEvents(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		secret      string
		age         time.Duration
		wantStatus  int
		wantBody    string
		wantCommand bool
	}{
		{name: "url verification", body: `{"token":"tok","challenge":"c-123","type":"url_verification"}`, secret: signingSecret,
			wantStatus: http.StatusOK, wantBody: "c-123"},
		{name: "direct message", body: messageEvent("U1", "status", "im", ""), secret: signingSecret,
			wantStatus: http.StatusOK, wantCommand: true},
		{name: "channel message", body: messageEvent("U1", "status", "channel", ""), secret: signingSecret, wantStatus: http.StatusOK},
		{name: "bot message", body: messageEvent("", "beep", "im", `, "bot_id": "B1", "subtype": "bot_message"`), secret: signingSecret,
			wantStatus: http.StatusOK},
		{name: "edited message", body: messageEvent("U1", "status", "im", `, "subtype": "message_changed"`), secret: signingSecret,
			wantStatus: http.StatusOK},
		{name: "bad signature", body: messageEvent("U1", "status", "im", ""), secret: "nope", wantStatus: http.StatusUnauthorized},
		{name: "stale timestamp", body: messageEvent("U1", "status", "im", ""), secret: signingSecret, age: time.Hour,
			wantStatus: http.StatusUnauthorized},
		{name: "garbage", body: `not json`, secret: signingSecret, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &fakeCommands{}
			s := New(Config{Commands: cmds, SlackSigningSecret: signingSecret})

			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, slackRequest(t, "/slack/events", tt.body, tt.secret, time.Now().Add(-tt.age)))
			s.Wait()

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := len(cmds.reqs) == 1; got != tt.wantCommand {
				t.Fatalf("command dispatched = %v, want %v", got, tt.wantCommand)
			}
			if tt.wantCommand {
				want := command.Request{ChatID: "U1", Channel: "D42", Text: "status"}
				if cmds.reqs[0] != want {
					t.Errorf("request = %+v, want %+v", cmds.reqs[0], want)
				}
			}
		})
	}
}

func TestSlackEvents_CommandFailureCounted(t *testing.T) {
	cmds := &fakeCommands{err: errors.New("boom")}
	s := New(Config{Commands: cmds, SlackSigningSecret: signingSecret})

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, slackRequest(t, "/slack/events", messageEvent("U1", "update", "im", ""), signingSecret, time.Now()))
	s.Wait()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if st := s.metrics.Stats(); st.Commands != 1 || st.Failures != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSlackAction(t *testing.T) {
	s := New(Config{SlackSigningSecret: signingSecret})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, slackRequest(t, "/slack/action", "payload=%7B%7D", signingSecret, time.Now()))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRootAndHealth(t *testing.T) {
	s := New(Config{})
	h := s.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/_-_/health") {
		t.Errorf("root = %d %q", rec.Code, rec.Body.String())
	}

	s.metrics.RecordEvent(types.PullRequestContext{Owner: "Acme", Repository: "widgets", Number: 1})
	s.metrics.RecordEvent(types.PullRequestContext{Owner: "acme", Repository: "Widgets", Number: 1})
	s.metrics.RecordCommand()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_-_/health", http.NoBody))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.HasPrefix(body, "ok - 1 owners, 1 PRs seen, 2 events, 0 failures, 1 commands") {
		t.Errorf("health = %d %q", rec.Code, body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payload", http.NoBody))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /payload = %d", rec.Code)
	}
}
