package domain

import (
	"errors"
	"testing"
	"time"
)

func validRequest() DeliveryRequest {
	return DeliveryRequest{
		CorrelationID: "corr-1",
		EventType:     "lab.report.ready",
		Channels:      []Channel{ChannelEmail, ChannelSlack},
		Recipients: RecipientSpec{
			Email: &EmailRecipients{To: []string{"a@example.com"}},
			Slack: &SlackRecipients{Channel: "#alerts"},
		},
		TemplateID: "lab-reports",
		Data:       map[string]any{"patientName": "Jane"},
	}
}

func TestDeliveryRequest_Validate_OK(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestDeliveryRequest_Validate_UnknownChannel(t *testing.T) {
	req := validRequest()
	req.Channels = append(req.Channels, Channel("pager"))
	err := req.Validate()
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDeliveryRequest_Validate_MissingTemplate(t *testing.T) {
	req := validRequest()
	req.TemplateID = ""
	if err := req.Validate(); err == nil {
		t.Fatal("expected error for missing templateId")
	}
}

func TestDeliveryRequest_Validate_TemplateOptionalForRawChannels(t *testing.T) {
	req := DeliveryRequest{
		CorrelationID: "corr-2",
		EventType:     "audit.event",
		Channels:      []Channel{ChannelInternal},
		Recipients:    RecipientSpec{Internal: &InternalRecipients{Targets: []string{"billing"}}},
		Data:          map[string]any{"k": "v"},
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("internal channel should not require a template, got %v", err)
	}
}

func TestRecipientSpec_ForChannel_MissingMember(t *testing.T) {
	var spec RecipientSpec
	for _, ch := range KnownChannels {
		if err := spec.ForChannel(ch); err == nil {
			t.Errorf("channel %s: expected error for empty spec", ch)
		}
	}
}

func TestRecipientSpec_ForChannel_InvalidSlackTag(t *testing.T) {
	spec := RecipientSpec{Slack: &SlackRecipients{
		Channel: "#alerts",
		Options: SlackOptions{ChannelTags: []string{"everybody"}},
	}}
	if err := spec.ForChannel(ChannelSlack); err == nil {
		t.Fatal("expected error for invalid channel tag")
	}
}

func TestRetryMetadata_DueAt(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if due := (RetryMetadata{}).DueAt(now); !due {
		t.Fatal("metadata without nextRetryAt must be due immediately")
	}

	future := now.Add(time.Minute)
	if due := (RetryMetadata{NextRetryAt: &future}).DueAt(now); due {
		t.Fatal("future nextRetryAt must not be due")
	}

	past := now.Add(-time.Minute)
	if due := (RetryMetadata{NextRetryAt: &past}).DueAt(now); !due {
		t.Fatal("past nextRetryAt must be due")
	}

	if due := (RetryMetadata{NextRetryAt: &now}).DueAt(now); !due {
		t.Fatal("nextRetryAt equal to now must be due")
	}
}
