// Package slackbridge connects the relay to a Slack workspace: Web API calls
// for lookups and posting, and Socket Mode or the Events API for inbound
// message events.
package slackbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/threadrelay/internal/recipients"
	"github.com/KafClaw/threadrelay/internal/relay"
	"github.com/KafClaw/threadrelay/internal/routing"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

const defaultAPIBase = "https://slack.com/api"

// ClientOptions configures a Client.
type ClientOptions struct {
	BotToken   string
	AppToken   string
	APIBase    string
	HTTPClient *http.Client
	// Attempts bounds calls retried after a rate-limit response.
	Attempts  int
	BaseDelay time.Duration
	// LookupTimeout bounds a user name lookup, retries included.
	LookupTimeout time.Duration
}

// Client wraps the Slack Web API. It serves as the recipient directory,
// the relay transport and the audit poster.
type Client struct {
	api           *slack.Client
	attempts      int
	baseDelay     time.Duration
	lookupTimeout time.Duration

	namesMu sync.RWMutex
	names   map[string]string
}

// NewClient builds a Web API client. An AppToken is only needed for Socket
// Mode.
func NewClient(opts ClientOptions) (*Client, error) {
	token := strings.TrimSpace(opts.BotToken)
	if token == "" {
		return nil, errors.New("missing slack bot token")
	}
	base := strings.TrimSpace(opts.APIBase)
	if base == "" {
		base = defaultAPIBase
	}
	base = strings.TrimRight(base, "/") + "/"
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	apiOpts := []slack.Option{
		slack.OptionHTTPClient(httpClient),
		slack.OptionAPIURL(base),
	}
	if app := strings.TrimSpace(opts.AppToken); app != "" {
		apiOpts = append(apiOpts, slack.OptionAppLevelToken(app))
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	return &Client{
		api:           slack.New(token, apiOpts...),
		attempts:      opts.Attempts,
		baseDelay:     opts.BaseDelay,
		lookupTimeout: opts.LookupTimeout,
		names:         map[string]string{},
	}, nil
}

// SocketMode returns a Socket Mode client sharing this client's API config.
func (c *Client) SocketMode() *socketmode.Client {
	return socketmode.New(c.api)
}

// BotUserID asks Slack which user the bot token belongs to.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	var resp *slack.AuthTestResponse
	err := c.call(ctx, func() error {
		var err error
		resp, err = c.api.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("auth.test: %w", err)
	}
	return resp.UserID, nil
}

// LookupByEmail implements recipients.Directory.
func (c *Client) LookupByEmail(ctx context.Context, email string) (recipients.Endpoint, error) {
	var user *slack.User
	err := c.call(ctx, func() error {
		var err error
		user, err = c.api.GetUserByEmailContext(ctx, email)
		return err
	})
	if err != nil {
		if isSlackError(err, "users_not_found") {
			return "", recipients.ErrNotFound
		}
		return "", fmt.Errorf("users.lookupByEmail: %w", err)
	}
	if user == nil || user.ID == "" || user.Deleted {
		return "", recipients.ErrNotFound
	}
	return recipients.Endpoint(user.ID), nil
}

// OpenConversation implements relay.Transport.
func (c *Client) OpenConversation(ctx context.Context, endpoint recipients.Endpoint) (string, error) {
	var ch *slack.Channel
	err := c.call(ctx, func() error {
		var err error
		ch, _, _, err = c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users:    []string{string(endpoint)},
			ReturnIM: true,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("conversations.open %s: %w", endpoint, err)
	}
	if ch == nil || ch.ID == "" {
		return "", fmt.Errorf("conversations.open %s: no channel returned", endpoint)
	}
	return ch.ID, nil
}

// Post implements relay.Transport and audit.Poster.
func (c *Client) Post(ctx context.Context, target routing.ThreadRef, text string) (routing.ThreadRef, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if target.TS != "" {
		opts = append(opts, slack.MsgOptionTS(target.TS))
	}
	var channel, ts string
	err := c.call(ctx, func() error {
		var err error
		channel, ts, err = c.api.PostMessageContext(ctx, target.Channel, opts...)
		return err
	})
	if err != nil {
		return routing.ThreadRef{}, fmt.Errorf("chat.postMessage %s: %w", target, err)
	}
	if channel == "" {
		channel = target.Channel
	}
	return routing.ThreadRef{Channel: channel, TS: ts}, nil
}

// Permalink implements relay.Transport.
func (c *Client) Permalink(ctx context.Context, ref routing.ThreadRef) (string, error) {
	link, err := c.api.GetPermalinkContext(ctx, &slack.PermalinkParameters{Channel: ref.Channel, Ts: ref.TS})
	if err != nil || link == "" {
		slog.Debug("Permalink lookup failed", "ref", ref.String(), "error", err)
		return "", relay.ErrPermalinkUnavailable
	}
	return link, nil
}

// UserDisplayName implements relay.Transport. Names are cached for the
// life of the client; a lookup that fails or outlasts LookupTimeout yields
// the raw user id.
func (c *Client) UserDisplayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	c.namesMu.RLock()
	name, ok := c.names[userID]
	c.namesMu.RUnlock()
	if ok {
		return name
	}
	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	var user *slack.User
	err := c.call(ctx, func() error {
		var err error
		user, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil || user == nil {
		slog.Debug("User lookup failed", "user", userID, "error", err)
		return userID
	}
	name = firstNonEmpty(user.Profile.DisplayName, user.RealName, user.Profile.RealName, user.Name, userID)
	c.namesMu.Lock()
	c.names[userID] = name
	c.namesMu.Unlock()
	return name
}

func (c *Client) call(ctx context.Context, fn func() error) error {
	return withRetry(ctx, c.attempts, c.baseDelay, func() (bool, error) {
		return retryDecision(fn())
	})
}

func isSlackError(err error, code string) bool {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err == code
	}
	return strings.Contains(err.Error(), code)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
