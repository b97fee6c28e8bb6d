package template

import (
	"fmt"
	htmltemplate "html/template"
	"strings"

	"github.com/ikbalhussain-1/notification-service/internal/domain"
)

var emailReadyHTML = htmltemplate.Must(htmltemplate.New("lab_report_ready").Parse(`<html>
  <body style="margin:0; padding:0; background-color:#f4f6f8; font-family:Arial, sans-serif;">
    <table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff; border-radius:6px;">
      <tr>
        <td style="background:#2f80ed; color:#ffffff; padding:20px;">
          <h2 style="margin:0; font-size:20px;">Lab Report Ready</h2>
        </td>
      </tr>
      <tr>
        <td style="padding:24px; color:#333333;">
          <p style="font-size:14px; line-height:1.6;">
            Your lab report <strong>{{.ReportID}}</strong> for SKU
            <strong>{{.SKU}}</strong> is now ready.
          </p>
          <p style="font-size:14px; line-height:1.6;">
            You may access the report through the platform at your convenience.
          </p>
        </td>
      </tr>
      <tr>
        <td style="background:#f4f6f8; padding:16px; font-size:12px; color:#777777; text-align:center;">
          This is an automated notification. Please do not reply.
        </td>
      </tr>
    </table>
  </body>
</html>`))

var emailPendingHTML = htmltemplate.Must(htmltemplate.New("lab_report_pending").Parse(`<html>
  <body style="margin:0; padding:0; background-color:#f4f6f8; font-family:Arial, sans-serif;">
    <table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff; border-radius:6px;">
      <tr>
        <td style="background:#f2994a; color:#ffffff; padding:20px;">
          <h2 style="margin:0; font-size:20px;">Lab Report Pending</h2>
        </td>
      </tr>
      <tr>
        <td style="padding:24px; color:#333333;">
          <p style="font-size:14px; line-height:1.6;">
            Your lab report <strong>{{.ReportID}}</strong> for SKU
            <strong>{{.SKU}}</strong> is currently under processing.
          </p>
          <p style="font-size:14px; line-height:1.6;">
            You will be notified as soon as the report becomes available.
          </p>
        </td>
      </tr>
      <tr>
        <td style="background:#f4f6f8; padding:16px; font-size:12px; color:#777777; text-align:center;">
          This is an automated notification.
        </td>
      </tr>
    </table>
  </body>
</html>`))

type labReportFields struct {
	ReportID string
	SKU      string
}

func emailLabReportReady(data map[string]any, _ domain.RecipientSpec) (Payload, error) {
	fields := labReportFields{ReportID: field(data, "reportId"), SKU: field(data, "sku")}

	var html strings.Builder
	if err := emailReadyHTML.Execute(&html, fields); err != nil {
		return Payload{}, err
	}

	return Payload{
		Subject: fmt.Sprintf("Lab Report Ready – %s", fields.ReportID),
		Text: fmt.Sprintf("Lab Report Ready\n\nYour lab report %s for SKU %s is now ready.\n\nThank you for using our service.",
			fields.ReportID, fields.SKU),
		HTML: html.String(),
	}, nil
}

func emailLabReportPending(data map[string]any, _ domain.RecipientSpec) (Payload, error) {
	fields := labReportFields{ReportID: field(data, "reportId"), SKU: field(data, "sku")}

	var html strings.Builder
	if err := emailPendingHTML.Execute(&html, fields); err != nil {
		return Payload{}, err
	}

	return Payload{
		Subject: fmt.Sprintf("Lab Report Pending – %s", fields.ReportID),
		Text: fmt.Sprintf("Lab Report Pending\n\nYour lab report %s for SKU %s is currently pending.\n\nYou will be notified once it is available.",
			fields.ReportID, fields.SKU),
		HTML: html.String(),
	}, nil
}

func slackLabReportReady(data map[string]any, recipients domain.RecipientSpec) (Payload, error) {
	mentions := channelTags(recipients)
	prefix := ""
	if mentions != "" {
		prefix = mentions + " "
	}
	text := fmt.Sprintf("%s*Lab Report Ready*\n*Report ID:* %s\n*SKU:* %s\nThe lab report is now available and ready for access.",
		prefix, field(data, "reportId"), field(data, "sku"))
	return Payload{Text: text}, nil
}

// channelTags renders Slack broadcast tags from the recipient options.
// User mentions are appended by the slack adapter after it resolves
// emails to user IDs; rendering stays a pure function.
func channelTags(recipients domain.RecipientSpec) string {
	if recipients.Slack == nil {
		return ""
	}
	tags := make([]string, 0, len(recipients.Slack.Options.ChannelTags))
	for _, tag := range recipients.Slack.Options.ChannelTags {
		switch strings.ToLower(tag) {
		case "channel":
			tags = append(tags, "<!channel>")
		case "here":
			tags = append(tags, "<!here>")
		case "everyone":
			tags = append(tags, "<!everyone>")
		}
	}
	return strings.Join(tags, " ")
}
