// Package slacksink implements alertsink.AlertSink over a Slack incoming
// webhook, grounded in monitoring/discord_alert.rs's DiscordAlert
// translated onto github.com/slack-go/slack, with a gobreaker circuit
// breaker around delivery so a flapping webhook trips open instead of
// blocking the dispatcher loop.
package slacksink

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	apperrors "github.com/ops-automation/eventpipe/internal/errors"
	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/alertsink"
	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/httpclient"
)

var _ alertsink.AlertSink = (*Sink)(nil)

// Sink posts alerts to a Slack incoming webhook.
type Sink struct {
	webhookURL string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        logr.Logger
}

// New creates a Sink posting to webhookURL. An empty webhookURL is legal
// — the sink is simply disabled, matching DiscordAlert::disabled.
func New(webhookURL string, log logr.Logger) *Sink {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "slack-alert-sink",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Sink{
		webhookURL: webhookURL,
		httpClient: httpclient.NewClient(httpclient.SlackClientConfig()),
		breaker:    breaker,
		log:        log,
	}
}

// Enabled reports whether a webhook URL is configured.
func (s *Sink) Enabled() bool {
	return s.webhookURL != ""
}

// SendEventAlert builds an embed from evt's Data and delivers it.
func (s *Sink) SendEventAlert(ctx context.Context, evt event.Event) error {
	if !s.Enabled() {
		s.log.V(1).Info("slack alert sink disabled, skipping event alert")
		return nil
	}
	embed := alertsink.BuildEventEmbed(evt)
	return s.send(ctx, embed)
}

// SendErrorAlert builds an embed from explicit fields and delivers it,
// mirroring DiscordAlert::send_error_alert.
func (s *Sink) SendErrorAlert(ctx context.Context, errorCode, message string, severity event.Severity, fields []alertsink.Field) error {
	if !s.Enabled() {
		s.log.V(1).Info("slack alert sink disabled, skipping error alert")
		return nil
	}

	embed := alertsink.Embed{
		Title:       alertsink.EmojiForSeverity(severity) + " Error: " + errorCode,
		Description: message,
		Color:       alertsink.ColorForSeverity(severity),
		Fields:      fields,
	}
	return s.send(ctx, embed)
}

func (s *Sink) send(ctx context.Context, embed alertsink.Embed) error {
	attachment := slack.Attachment{
		Title: embed.Title,
		Text:  embed.Description,
		Color: colorHex(embed.Color),
	}

	for _, f := range embed.Fields {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: true,
		})
	}

	message := &slack.WebhookMessage{
		Attachments: []slack.Attachment{attachment},
	}

	start := time.Now()
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, message)
	})
	duration := time.Since(start)

	fields := logging.NewFields().Component("alertsink").Operation("send").Duration(duration)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.log.Error(err, "slack webhook circuit breaker open", fields.KeysAndValues()...)
			return apperrors.NewUnavailableError("slack-webhook", err)
		}
		s.log.Error(err, "failed to send slack webhook", fields.KeysAndValues()...)
		return apperrors.Wrap(err, apperrors.ErrorTypeUnavailable, "failed to send slack webhook")
	}

	s.log.Info("slack alert sent", fields.KeysAndValues()...)
	return nil
}

// colorHex renders a decimal RGB color as the "#RRGGBB" string Slack
// attachments expect.
func colorHex(color uint32) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 7)
	b[0] = '#'
	for i := 0; i < 6; i++ {
		shift := uint(20 - i*4)
		b[i+1] = hexDigits[(color>>shift)&0xF]
	}
	return string(b)
}
