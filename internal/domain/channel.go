package domain

// Channel identifies a delivery transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSlack    Channel = "slack"
	ChannelWebhook  Channel = "webhook"
	ChannelInternal Channel = "internal"
)

// KnownChannels lists every channel the pipeline can dispatch to,
// in no particular order.
var KnownChannels = []Channel{ChannelEmail, ChannelSlack, ChannelWebhook, ChannelInternal}

// IsKnown reports whether c is a channel the pipeline recognizes.
func (c Channel) IsKnown() bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelWebhook, ChannelInternal:
		return true
	}
	return false
}

// RequiresTemplate reports whether dispatch on this channel renders a
// template. Webhook and internal deliveries carry the raw data payload.
func (c Channel) RequiresTemplate() bool {
	return c == ChannelEmail || c == ChannelSlack
}
