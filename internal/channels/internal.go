package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// InternalConfig configures delivery to in-house event consumers.
type InternalConfig struct {
	// BaseURL is the events intake endpoint; each target becomes a
	// path segment under it.
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Internal fans the raw payload out to in-house service targets. No
// template is involved; consumers interpret the event data themselves.
type Internal struct {
	cfg    InternalConfig
	client *http.Client
	log    zerolog.Logger
}

func NewInternal(cfg InternalConfig, log zerolog.Logger) *Internal {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Internal{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("adapter", "internal").Logger(),
	}
}

func (i *Internal) Channel() domain.Channel { return domain.ChannelInternal }

func (i *Internal) Send(ctx context.Context, msg Message) error {
	spec := msg.Recipients.Internal
	if spec == nil || len(spec.Targets) == 0 {
		return permanentErr(domain.ChannelInternal, "no targets")
	}

	body, err := json.Marshal(map[string]any{
		"eventType":     msg.EventType,
		"correlationId": msg.CorrelationID,
		"data":          msg.Data,
	})
	if err != nil {
		return permanentErr(domain.ChannelInternal, "marshal payload: %v", err)
	}

	for _, target := range spec.Targets {
		if err := i.post(ctx, target, body); err != nil {
			return err
		}
	}

	i.log.Debug().Str("correlation_id", msg.CorrelationID).Int("targets", len(spec.Targets)).Msg("internal event delivered")
	return nil
}

func (i *Internal) post(ctx context.Context, target string, body []byte) error {
	url := fmt.Sprintf("%s/%s", i.cfg.BaseURL, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return permanentErr(domain.ChannelInternal, "create request for %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if i.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+i.cfg.Token)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return transientErr(domain.ChannelInternal, "post %s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if retryableStatus(resp.StatusCode) {
		return transientErr(domain.ChannelInternal, "target %s: http %d", target, resp.StatusCode)
	}
	return permanentErr(domain.ChannelInternal, "target %s: http %d", target, resp.StatusCode)
}

var _ Adapter = (*Internal)(nil)
