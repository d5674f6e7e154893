//nolint:govet // fieldalignment after reordering
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/sprinkler/pkg/client"

	"github.com/codeGROOVE-dev/slackin/pkg/github"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

const (
	eventChannelSize      = 100              // Buffer size for event channel
	eventDedupWindow      = 5 * time.Second  // Time window for deduplicating events
	eventMapMaxSize       = 1000             // Maximum entries in event dedup map
	eventMapCleanupAge    = 1 * time.Hour    // Age threshold for cleaning up old entries
	sprinklerMaxRetries   = 3                // Max retries for PR processing
	sprinklerRetryDelay   = time.Second      // Initial delay between retries
	sprinklerMaxDelay     = 10 * time.Second // Max delay between retries
	connectionHealthCheck = 2 * time.Minute
	maxReconnectAttempts  = 100
	reconnectBackoff      = 30 * time.Second
	maxReconnectBackoff   = 5 * time.Minute
)

// prSource is the GitHub side of the event stream: tokens for the websocket and PR lookups.
type prSource interface {
	Token(ctx context.Context, owner string) (string, error)
	PullRequest(ctx context.Context, owner, repo string, number int) (*types.PullRequest, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, pr *types.PullRequest) (bool, error)
}

// eventRecorder counts stream events on the health endpoint.
type eventRecorder interface {
	RecordEvent(pr types.PullRequestContext)
	RecordFailure()
}

// sprinklerMonitor streams pull request events for one org and reconciles each PR.
type sprinklerMonitor struct {
	mu              sync.RWMutex
	lastConnectedAt time.Time
	lastEventAt     time.Time
	source          prSource
	reconciler      reconciler
	metrics         eventRecorder
	client          *client.Client
	eventChan       chan string
	lastEventMap    map[string]time.Time
	stopChan        chan struct{}
	org             string
	retryDelay      time.Duration
	reconnects      int
	isRunning       bool
	isConnected     bool
}

func newSprinklerMonitor(org string, source prSource, r reconciler, metrics eventRecorder) *sprinklerMonitor {
	return &sprinklerMonitor{
		source:       source,
		reconciler:   r,
		metrics:      metrics,
		org:          org,
		eventChan:    make(chan string, eventChannelSize),
		lastEventMap: make(map[string]time.Time),
		stopChan:     make(chan struct{}),
		retryDelay:   sprinklerRetryDelay,
	}
}

// start begins monitoring for PR events for this org.
func (sm *sprinklerMonitor) start(ctx context.Context) {
	sm.mu.Lock()
	if sm.isRunning {
		sm.mu.Unlock()
		slog.Info("Monitor already running", "component", "sprinkler", "org", sm.org)
		return
	}
	sm.isRunning = true
	sm.mu.Unlock()

	go sm.processEvents(ctx)
	go sm.manageConnection(ctx)
	go sm.monitorHealth(ctx)

	slog.Info("Event monitor started", "component", "sprinkler", "org", sm.org)
}

// manageConnection restarts the websocket client whenever it gives up.
// The client reconnects internally; this loop only handles fatal exits.
func (sm *sprinklerMonitor) manageConnection(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection manager panic", "component", "sprinkler", "org", sm.org, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		default:
		}

		err := sm.connectWebSocket(ctx)
		if errors.Is(err, context.Canceled) {
			return
		}

		sm.mu.Lock()
		if err == nil {
			sm.reconnects = 0
		} else {
			sm.reconnects++
		}
		attempts := sm.reconnects
		sm.mu.Unlock()

		if attempts >= maxReconnectAttempts {
			slog.Error("Max reconnection attempts reached, giving up", "component", "sprinkler", "org", sm.org, "attempts", attempts)
			return
		}

		backoff := 5 * time.Second
		if err != nil {
			backoff = min(reconnectBackoff*time.Duration(attempts), maxReconnectBackoff)
			slog.Warn("WebSocket client gave up, will restart after backoff",
				"component", "sprinkler", "org", sm.org, "attempt", attempts, "backoff", backoff, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-time.After(backoff):
		}
	}
}

// clientConfig builds the sprinkler client settings with a freshly fetched token.
// Installation tokens expire, so every reconnect builds a new config.
func (sm *sprinklerMonitor) clientConfig(ctx context.Context) (client.Config, error) {
	token, err := sm.source.Token(ctx, sm.org)
	if err != nil {
		return client.Config{}, fmt.Errorf("failed to get token: %w", err)
	}
	return client.Config{
		ServerURL:      "wss://" + client.DefaultServerAddress + "/ws",
		Organization:   sm.org,
		Token:          token,
		EventTypes:     []string{"pull_request"},
		UserEventsOnly: false,
		Verbose:        false,
		NoReconnect:    false,
		OnConnect: func() {
			sm.mu.Lock()
			sm.isConnected = true
			sm.lastConnectedAt = time.Now()
			sm.mu.Unlock()
			slog.Info("WebSocket connected", "component", "sprinkler", "org", sm.org)
		},
		OnDisconnect: func(err error) {
			sm.mu.Lock()
			wasConnected := sm.isConnected
			sm.isConnected = false
			sm.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) && wasConnected {
				slog.Warn("WebSocket disconnected", "component", "sprinkler", "org", sm.org, "error", err)
			}
		},
		OnEvent: func(event client.Event) {
			sm.handleEvent(event)
		},
	}, nil
}

func (sm *sprinklerMonitor) connectWebSocket(ctx context.Context) error {
	config, err := sm.clientConfig(ctx)
	if err != nil {
		return err
	}

	wsClient, err := client.New(config)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	sm.mu.Lock()
	sm.client = wsClient
	sm.mu.Unlock()

	startTime := time.Now()
	if err := wsClient.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("WebSocket client stopped with error",
			"component", "sprinkler", "org", sm.org, "uptime", time.Since(startTime).Round(time.Second), "error", err)
		return err
	}
	slog.Info("WebSocket client stopped", "component", "sprinkler", "org", sm.org, "uptime", time.Since(startTime).Round(time.Second))
	return nil
}

func (sm *sprinklerMonitor) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(connectionHealthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case <-ticker.C:
			sm.mu.RLock()
			connected, since, lastEvent := sm.isConnected, sm.lastConnectedAt, sm.lastEventAt
			sm.mu.RUnlock()

			switch {
			case connected:
				var quiet time.Duration
				if !lastEvent.IsZero() {
					quiet = time.Since(lastEvent)
				}
				slog.Info("Sprinkler health check - connected", "component", "sprinkler", "org", sm.org,
					"connected_for", time.Since(since).Round(time.Second), "time_since_last_event", quiet.Round(time.Second))
			case !since.IsZero():
				slog.Warn("Sprinkler health check - disconnected", "component", "sprinkler", "org", sm.org,
					"disconnected_for", time.Since(since).Round(time.Second))
			default:
				slog.Info("Sprinkler health check - not yet connected", "component", "sprinkler", "org", sm.org)
			}
		}
	}
}

// handleEvent queues pull request URLs for this org, dropping repeats inside the dedup window.
func (sm *sprinklerMonitor) handleEvent(event client.Event) {
	if event.Type != "pull_request" {
		return
	}
	if event.URL == "" {
		slog.Warn("Received PR event with empty URL", "component", "sprinkler")
		return
	}

	ref, err := github.ParsePRURL(event.URL)
	if err != nil {
		slog.Warn("Failed to parse PR URL", "component", "sprinkler", "url", event.URL, "org", sm.org, "error", err)
		return
	}
	if !strings.EqualFold(ref.Owner, sm.org) {
		slog.Debug("Ignoring event for different org", "component", "sprinkler", "event_org", ref.Owner, "monitor_org", sm.org)
		return
	}

	sm.mu.Lock()
	now := time.Now()
	if last, ok := sm.lastEventMap[event.URL]; ok && now.Sub(last) < eventDedupWindow {
		sm.mu.Unlock()
		return
	}
	sm.lastEventMap[event.URL] = now
	sm.lastEventAt = now
	if len(sm.lastEventMap) > eventMapMaxSize {
		cutoff := now.Add(-eventMapCleanupAge)
		for url, ts := range sm.lastEventMap {
			if ts.Before(cutoff) {
				delete(sm.lastEventMap, url)
			}
		}
	}
	sm.mu.Unlock()

	slog.Info("PR event received", "component", "sprinkler", "url", event.URL, "org", sm.org)
	select {
	case sm.eventChan <- event.URL:
	default:
		slog.Warn("Event channel full, dropping event", "component", "sprinkler", "url", event.URL)
	}
}

func (sm *sprinklerMonitor) processEvents(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event processor panic", "component", "sprinkler", "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sm.stopChan:
			return
		case prURL := <-sm.eventChan:
			sm.processEvent(ctx, prURL)
		}
	}
}

// permanent reports failures that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, types.ErrInsufficientCandidates) || errors.Is(err, types.ErrPersistenceFailure)
}

// processEvent fetches the PR and reconciles it, retrying transient failures.
// A retry re-reads the PR, so reviewers requested or assigned by an earlier attempt count
// toward the required number and are not picked again.
func (sm *sprinklerMonitor) processEvent(ctx context.Context, prURL string) {
	start := time.Now()
	ref, err := github.ParsePRURL(prURL)
	if err != nil {
		slog.Warn("Failed to parse PR URL", "component", "sprinkler", "url", prURL, "error", err)
		return
	}

	var acted bool
	err = retry.Do(func() error {
		pr, err := sm.source.PullRequest(ctx, ref.Owner, ref.Repo, ref.Number)
		if err != nil {
			return err
		}
		pr.Owner, pr.Repository = ref.Owner, ref.Repo
		if sm.metrics != nil {
			sm.metrics.RecordEvent(pr.Context())
		}
		acted, err = sm.reconciler.Reconcile(ctx, pr)
		return err
	},
		retry.Attempts(sprinklerMaxRetries),
		retry.Delay(sm.retryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxDelay(sprinklerMaxDelay),
		retry.RetryIf(func(err error) bool { return !permanent(err) }),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retrying PR processing", "component", "sprinkler", "attempt", n+1,
				"owner", ref.Owner, "repo", ref.Repo, "pr", ref.Number, "error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		if sm.metrics != nil {
			sm.metrics.RecordFailure()
		}
		slog.Error("Failed to process PR",
			"component", "sprinkler", "owner", ref.Owner, "repo", ref.Repo, "pr", ref.Number,
			"elapsed", time.Since(start).Round(time.Millisecond), "error", err)
		return
	}

	slog.Info("Processed PR",
		"component", "sprinkler", "owner", ref.Owner, "repo", ref.Repo, "pr", ref.Number,
		"assigned", acted, "elapsed", time.Since(start).Round(time.Millisecond))
}

func (sm *sprinklerMonitor) stop() {
	sm.mu.Lock()
	if !sm.isRunning {
		sm.mu.Unlock()
		return
	}
	sm.isRunning = false
	wsClient := sm.client
	sm.mu.Unlock()

	close(sm.stopChan)
	if wsClient != nil {
		wsClient.Stop()
	}
	slog.Info("Event monitor stopped", "component", "sprinkler", "org", sm.org)
}
