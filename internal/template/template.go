// Package template renders channel-specific message bodies. Render is a
// pure function of (channel, templateId, data, recipients); an unknown
// template or channel is a permanent error, never retried.
package template

import (
	"fmt"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

// Payload is a rendered message body. Channels use the fields they need:
// email reads Subject/Text/HTML, slack reads Text.
type Payload struct {
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`
}

// NotFoundError reports a missing template for a channel.
type NotFoundError struct {
	TemplateID string
	Channel    domain.Channel
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("template not found: %s for channel: %s", e.TemplateID, e.Channel)
}

type renderFunc func(data map[string]any, recipients domain.RecipientSpec) (Payload, error)

// registry maps channel -> templateId -> renderer. Channels without
// templates (webhook, internal) deliver the raw data payload instead.
var registry = map[domain.Channel]map[string]renderFunc{
	domain.ChannelEmail: {
		"lab_report_ready":   emailLabReportReady,
		"lab_report_pending": emailLabReportPending,
	},
	domain.ChannelSlack: {
		"lab_report_ready_v1": slackLabReportReady,
	},
}

// Render resolves and executes the template for one channel.
func Render(channel domain.Channel, templateID string, data map[string]any, recipients domain.RecipientSpec) (Payload, error) {
	channelTemplates, ok := registry[channel]
	if !ok {
		return Payload{}, NotFoundError{TemplateID: templateID, Channel: channel}
	}
	render, ok := channelTemplates[templateID]
	if !ok {
		return Payload{}, NotFoundError{TemplateID: templateID, Channel: channel}
	}
	payload, err := render(data, recipients)
	if err != nil {
		return Payload{}, NotFoundError{TemplateID: templateID, Channel: channel}
	}
	return payload, nil
}

// field reads a string value out of template data, substituting "N/A"
// when absent, matching the wire format consumers already depend on.
func field(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return "N/A"
	}
	s := fmt.Sprint(v)
	if s == "" {
		return "N/A"
	}
	return s
}
