package domain

// Priority orders requests for downstream channels that support it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// DeliveryRequest is one logical notification intent spanning one or more
// channels. It is immutable once admitted; consumers read it, never write.
type DeliveryRequest struct {
	CorrelationID string         `json:"correlationId"`
	EventType     string         `json:"eventType"`
	Channels      []Channel      `json:"channels"`
	Recipients    RecipientSpec  `json:"recipients"`
	TemplateID    string         `json:"templateId"`
	Data          map[string]any `json:"data"`
	Priority      Priority       `json:"priority,omitempty"`
}

// Validate checks the structural shape of an admitted request.
// It mirrors the admission boundary's rules so that records arriving from
// the events stream are re-checked before any channel call.
func (r DeliveryRequest) Validate() error {
	if r.EventType == "" {
		return ValidationError{Field: "eventType", Message: "required"}
	}
	if len(r.Channels) == 0 {
		return ValidationError{Field: "channels", Message: "must be a non-empty array"}
	}
	for _, ch := range r.Channels {
		if !ch.IsKnown() {
			return ValidationError{Field: "channels", Message: "unknown channel: " + string(ch)}
		}
	}
	needsTemplate := false
	for _, ch := range r.Channels {
		if ch.RequiresTemplate() {
			needsTemplate = true
		}
	}
	if needsTemplate {
		if r.TemplateID == "" {
			return ValidationError{Field: "templateId", Message: "required"}
		}
		if r.Data == nil {
			return ValidationError{Field: "data", Message: "required"}
		}
	}
	for _, ch := range r.Channels {
		if err := r.Recipients.ForChannel(ch); err != nil {
			return err
		}
	}
	return nil
}

// ChannelDispatchJob is a DeliveryRequest narrowed to a single channel.
// The dispatch worker creates one per requested channel; each is an
// independent unit of work with its own retry/dead-letter lifecycle.
type ChannelDispatchJob struct {
	DeliveryRequest
	Channel Channel `json:"channel"`
}

// Validate checks the structural shape of a single-channel job.
func (j ChannelDispatchJob) Validate() error {
	if !j.Channel.IsKnown() {
		return ValidationError{Field: "channel", Message: "unknown channel: " + string(j.Channel)}
	}
	if err := j.Recipients.ForChannel(j.Channel); err != nil {
		return err
	}
	if j.Channel.RequiresTemplate() {
		if j.TemplateID == "" {
			return ValidationError{Field: "templateId", Message: "required for channel " + string(j.Channel)}
		}
		if j.Data == nil {
			return ValidationError{Field: "data", Message: "required for channel " + string(j.Channel)}
		}
	}
	return nil
}
