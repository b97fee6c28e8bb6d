package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

const defaultWebhookTimeout = 30 * time.Second

// Webhook posts the raw event payload to a consumer-supplied URL with
// an HMAC-SHA256 signature over the body.
type Webhook struct {
	client *http.Client
	log    zerolog.Logger
}

func NewWebhook(log zerolog.Logger) *Webhook {
	return &Webhook{
		client: &http.Client{},
		log:    log.With().Str("adapter", "webhook").Logger(),
	}
}

func (w *Webhook) Channel() domain.Channel { return domain.ChannelWebhook }

type webhookBody struct {
	EventType     string         `json:"eventType"`
	CorrelationID string         `json:"correlationId"`
	Data          map[string]any `json:"data"`
	SentAt        string         `json:"sentAt"`
}

// Send posts the payload. Headers: X-Notify-Correlation-ID and, when a
// secret is configured, X-Notify-Signature.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	spec := msg.Recipients.Webhook
	if spec == nil || spec.URL == "" {
		return permanentErr(domain.ChannelWebhook, "no webhook url")
	}

	body, err := json.Marshal(webhookBody{
		EventType:     msg.EventType,
		CorrelationID: msg.CorrelationID,
		Data:          msg.Data,
		SentAt:        time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return permanentErr(domain.ChannelWebhook, "marshal payload: %v", err)
	}

	timeout := defaultWebhookTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, spec.URL, bytes.NewReader(body))
	if err != nil {
		return permanentErr(domain.ChannelWebhook, "create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notify-Correlation-ID", msg.CorrelationID)
	if spec.Secret != "" {
		req.Header.Set("X-Notify-Signature", ComputeSignature(spec.Secret, body))
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return transientErr(domain.ChannelWebhook, "post %s: %v", spec.URL, err)
	}
	defer resp.Body.Close()

	w.log.Debug().
		Str("correlation_id", msg.CorrelationID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("webhook delivered")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if retryableStatus(resp.StatusCode) {
		return transientErr(domain.ChannelWebhook, "http %d from %s", resp.StatusCode, spec.URL)
	}
	return permanentErr(domain.ChannelWebhook, "http %d from %s", resp.StatusCode, spec.URL)
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ Adapter = (*Webhook)(nil)
