package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// SlackConfig configures the Slack Web API adapter.
type SlackConfig struct {
	Token          string
	DefaultChannel string
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
	Timeout time.Duration
}

// Slack posts rendered messages through the Slack Web API. Tagged
// users are resolved from email to user ID before posting; DM delivery
// opens a conversation per user and posts the same message there.
type Slack struct {
	cfg    SlackConfig
	client *http.Client
	log    zerolog.Logger
}

func NewSlack(cfg SlackConfig, log zerolog.Logger) *Slack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://slack.com/api"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Slack{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("adapter", "slack").Logger(),
	}
}

func (s *Slack) Channel() domain.Channel { return domain.ChannelSlack }

func (s *Slack) Send(ctx context.Context, msg Message) error {
	spec := msg.Recipients.Slack
	if spec == nil {
		return permanentErr(domain.ChannelSlack, "no slack recipients")
	}

	channel := spec.Channel
	if channel == "" {
		channel = s.cfg.DefaultChannel
	}

	mentions, err := s.resolveMentions(ctx, spec.UsersToTag)
	if err != nil {
		return err
	}

	text := msg.Rendered.Text
	if len(mentions) > 0 {
		text = strings.Join(mentions, " ") + " " + text
	}

	if channel != "" {
		if err := s.postMessage(ctx, channel, text); err != nil {
			return err
		}
	}

	if spec.Options.SendDMs || len(spec.UsersToDM) > 0 {
		users := spec.UsersToDM
		if spec.Options.SendDMs {
			users = append(users, spec.UsersToTag...)
		}
		if err := s.sendDMs(ctx, users, msg.Rendered.Text); err != nil {
			return err
		}
	}

	s.log.Debug().Str("correlation_id", msg.CorrelationID).Str("channel", channel).Msg("slack message sent")
	return nil
}

// resolveMentions maps user emails to <@ID> mention strings. Unknown
// users are skipped rather than failing the whole delivery.
func (s *Slack) resolveMentions(ctx context.Context, emails []string) ([]string, error) {
	mentions := make([]string, 0, len(emails))
	for _, email := range emails {
		id, err := s.lookupUser(ctx, email)
		if err != nil {
			var chErr *Error
			if errors.As(err, &chErr) && !chErr.Transient {
				s.log.Warn().Str("email", email).Msg("slack user not found, skipping mention")
				continue
			}
			return nil, err
		}
		mentions = append(mentions, fmt.Sprintf("<@%s>", id))
	}
	return mentions, nil
}

func (s *Slack) sendDMs(ctx context.Context, emails []string, text string) error {
	seen := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		id, err := s.lookupUser(ctx, email)
		if err != nil {
			var chErr *Error
			if errors.As(err, &chErr) && !chErr.Transient {
				s.log.Warn().Str("email", email).Msg("slack user not found, skipping DM")
				continue
			}
			return err
		}
		dm, err := s.openConversation(ctx, id)
		if err != nil {
			return err
		}
		if err := s.postMessage(ctx, dm, text); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slack) postMessage(ctx context.Context, channel, text string) error {
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	body := map[string]any{"channel": channel, "text": text, "mrkdwn": true}
	if err := s.call(ctx, "chat.postMessage", body, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return classifySlackAPI("chat.postMessage", resp.Error)
	}
	return nil
}

func (s *Slack) lookupUser(ctx context.Context, email string) (string, error) {
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	endpoint := "users.lookupByEmail?email=" + url.QueryEscape(email)
	if err := s.call(ctx, endpoint, nil, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", classifySlackAPI("users.lookupByEmail", resp.Error)
	}
	return resp.User.ID, nil
}

func (s *Slack) openConversation(ctx context.Context, userID string) (string, error) {
	var resp struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	if err := s.call(ctx, "conversations.open", map[string]any{"users": userID}, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", classifySlackAPI("conversations.open", resp.Error)
	}
	return resp.Channel.ID, nil
}

// call performs one Web API request. GET when body is nil, POST with a
// JSON body otherwise.
func (s *Slack) call(ctx context.Context, endpoint string, body map[string]any, out any) error {
	method := http.MethodGet
	var reader *bytes.Reader
	if body != nil {
		method = http.MethodPost
		raw, err := json.Marshal(body)
		if err != nil {
			return permanentErr(domain.ChannelSlack, "marshal %s: %v", endpoint, err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+"/"+endpoint, reader)
	if err != nil {
		return permanentErr(domain.ChannelSlack, "create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return transientErr(domain.ChannelSlack, "%s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	if retryableStatus(resp.StatusCode) {
		return transientErr(domain.ChannelSlack, "%s: http %d", endpoint, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return permanentErr(domain.ChannelSlack, "%s: http %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transientErr(domain.ChannelSlack, "%s: decode: %v", endpoint, err)
	}
	return nil
}

// classifySlackAPI maps ok:false API errors. Rate limiting and service
// availability errors are transient; everything else (bad channel,
// missing scope, unknown user) cannot succeed on retry.
func classifySlackAPI(endpoint, apiErr string) *Error {
	switch apiErr {
	case "ratelimited", "service_unavailable", "internal_error":
		return transientErr(domain.ChannelSlack, "%s: %s", endpoint, apiErr)
	}
	return permanentErr(domain.ChannelSlack, "%s: %s", endpoint, apiErr)
}

var _ Adapter = (*Slack)(nil)
