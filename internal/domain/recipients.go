package domain

// RecipientSpec carries channel-specific addressing as a tagged union:
// one optional member per channel, validated against the channel actually
// being dispatched. Requests only populate the members for the channels
// they target.
type RecipientSpec struct {
	Email    *EmailRecipients    `json:"email,omitempty"`
	Slack    *SlackRecipients    `json:"slack,omitempty"`
	Webhook  *WebhookRecipients  `json:"webhook,omitempty"`
	Internal *InternalRecipients `json:"internal,omitempty"`
}

type EmailRecipients struct {
	To []string `json:"to"`
}

type SlackRecipients struct {
	// Channel is the Slack channel to post to. Empty falls back to the
	// adapter's configured default channel.
	Channel    string       `json:"channel,omitempty"`
	UsersToTag []string     `json:"usersToTag,omitempty"`
	UsersToDM  []string     `json:"usersToDM,omitempty"`
	Options    SlackOptions `json:"options,omitempty"`
}

type SlackOptions struct {
	// SendDMs also direct-messages the tagged users.
	SendDMs bool `json:"sendDMs,omitempty"`
	// ChannelTags are broadcast tags rendered into the message:
	// "channel", "here" or "everyone".
	ChannelTags []string `json:"channelTags,omitempty"`
}

type WebhookRecipients struct {
	URL            string `json:"url"`
	Secret         string `json:"secret,omitempty"` // HMAC secret
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type InternalRecipients struct {
	Targets []string `json:"targets"`
}

// ForChannel validates that the spec carries usable addressing for ch.
func (s RecipientSpec) ForChannel(ch Channel) error {
	switch ch {
	case ChannelEmail:
		if s.Email == nil || len(s.Email.To) == 0 {
			return ValidationError{Field: "recipients.email.to", Message: "must be a non-empty array"}
		}
	case ChannelSlack:
		if s.Slack == nil {
			return ValidationError{Field: "recipients.slack", Message: "required"}
		}
		if s.Slack.Channel == "" && len(s.Slack.UsersToTag) == 0 && len(s.Slack.UsersToDM) == 0 {
			return ValidationError{Field: "recipients.slack", Message: "no channel or users specified"}
		}
		for _, tag := range s.Slack.Options.ChannelTags {
			if tag != "channel" && tag != "here" && tag != "everyone" {
				return ValidationError{Field: "recipients.slack.options.channelTags", Message: "invalid tag: " + tag}
			}
		}
	case ChannelWebhook:
		if s.Webhook == nil || s.Webhook.URL == "" {
			return ValidationError{Field: "recipients.webhook.url", Message: "required"}
		}
	case ChannelInternal:
		if s.Internal == nil || len(s.Internal.Targets) == 0 {
			return ValidationError{Field: "recipients.internal.targets", Message: "must be a non-empty array"}
		}
	default:
		return ValidationError{Field: "channel", Message: "unknown channel: " + string(ch)}
	}
	return nil
}
