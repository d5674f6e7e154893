package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/codeGROOVE-dev/slackin/pkg/cache"
	"github.com/codeGROOVE-dev/slackin/pkg/types"
	"github.com/slack-go/slack"
)

const (
	dmCacheTTL       = 24 * time.Hour
	deliveryAttempts = 3
)

// Sender is what the bot needs from a chat platform.
type Sender interface {
	SendDirect(ctx context.Context, chatID string, msg Message, force bool) error
	SendToChannel(ctx context.Context, channelID string, msg Message) error
	SendEphemeral(ctx context.Context, channelID, chatID string, msg Message) error
}

// Recipients resolves chat ids to users so muted users can be left alone.
type Recipients interface {
	FindByChatID(id string) (types.User, bool)
}

// HTTPDoer is the transport used by the Slack client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Messenger.
type Config struct {
	HTTPClient HTTPDoer // nil means http.DefaultClient
	Token      string
	APIURL     string // empty means the public Slack API
	RetryDelay time.Duration
}

// Messenger sends messages through the Slack Web API.
type Messenger struct {
	api        *slack.Client
	recipients Recipients
	dms        *cache.Cache[string]
	retryDelay time.Duration
}

var _ Sender = (*Messenger)(nil)

// New creates a Messenger. recipients may be nil, in which case every DM is delivered.
func New(cfg Config, recipients Recipients) *Messenger {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &Messenger{
		api:        slack.New(cfg.Token, opts...),
		recipients: recipients,
		dms:        cache.New[string](dmCacheTTL),
		retryDelay: delay,
	}
}

// Close releases the DM channel cache.
func (m *Messenger) Close() {
	m.dms.Close()
}

// silenced reports whether chatID asked not to be bothered. Unknown users count as silenced.
func (m *Messenger) silenced(chatID string) bool {
	if m.recipients == nil {
		return false
	}
	u, ok := m.recipients.FindByChatID(chatID)
	return !ok || !u.Notifications
}

// SendDirect opens (or reuses) the DM channel with chatID and posts msg there.
// Muted and unknown recipients are skipped unless force is set.
func (m *Messenger) SendDirect(ctx context.Context, chatID string, msg Message, force bool) error {
	if strings.TrimSpace(chatID) == "" {
		return types.Delivery("send direct", errors.New("empty chat id"))
	}
	if m.silenced(chatID) && !force {
		slog.Info("Recipient should not be bothered, skipping DM", "component", "slack", "slack_id", chatID)
		return nil
	}

	channel, err := m.openDM(ctx, chatID)
	if err != nil {
		return types.Delivery("open dm", err)
	}
	return m.SendToChannel(ctx, channel, msg)
}

// SendToChannel posts msg to a channel or conversation.
func (m *Messenger) SendToChannel(ctx context.Context, channelID string, msg Message) error {
	if strings.TrimSpace(channelID) == "" {
		return types.Delivery("send to channel", errors.New("empty channel id"))
	}
	if msg.Empty() {
		return types.Delivery("send to channel", errors.New("empty message"))
	}

	var ts string
	err := m.withRetry(ctx, "chat.postMessage", func() error {
		var err error
		_, ts, err = m.api.PostMessageContext(ctx, channelID, msg.options()...)
		return err
	})
	if err != nil {
		return types.Delivery("post message", err)
	}
	slog.Info("Sent message", "component", "slack", "channel", channelID, "ts", ts)
	return nil
}

// SendEphemeral posts msg visible only to chatID inside channelID.
func (m *Messenger) SendEphemeral(ctx context.Context, channelID, chatID string, msg Message) error {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(chatID) == "" {
		return types.Delivery("send ephemeral", errors.New("empty channel or chat id"))
	}
	if msg.Empty() {
		return types.Delivery("send ephemeral", errors.New("empty message"))
	}

	err := m.withRetry(ctx, "chat.postEphemeral", func() error {
		_, err := m.api.PostEphemeralContext(ctx, channelID, chatID, msg.options()...)
		return err
	})
	if err != nil {
		return types.Delivery("post ephemeral", err)
	}
	slog.Info("Sent ephemeral message", "component", "slack", "channel", channelID, "slack_id", chatID)
	return nil
}

// UserName returns the Slack handle for chatID.
func (m *Messenger) UserName(ctx context.Context, chatID string) (string, error) {
	u, err := m.api.GetUserInfoContext(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("looking up slack user %s: %w", chatID, err)
	}
	return u.Name, nil
}

func (m *Messenger) openDM(ctx context.Context, chatID string) (string, error) {
	if id, ok := m.dms.Get(chatID); ok {
		return id, nil
	}

	var ch *slack.Channel
	err := m.withRetry(ctx, "conversations.open", func() error {
		var err error
		ch, _, _, err = m.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{chatID}})
		return err
	})
	if err != nil {
		return "", err
	}
	if ch == nil || ch.ID == "" {
		return "", errors.New("slack returned no dm channel")
	}
	m.dms.Set(chatID, ch.ID)
	return ch.ID, nil
}

// withRetry retries rate limits and Slack-side 5xx. Anything else is returned at once.
func (m *Messenger) withRetry(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(deliveryAttempts),
		retry.Delay(m.retryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(m.retryDelay/4+time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			slog.Info("Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
}

func retryable(err error) bool {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		return sc.Code >= http.StatusInternalServerError
	}
	return false
}
