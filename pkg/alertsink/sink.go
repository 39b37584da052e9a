// Package alertsink defines the outbound alert interface the dispatcher
// calls when a monitoring event survives the trigger filter, grounded in
// the original DiscordAlert's embed-shaped message and severity-to-color
// mapping (monitoring/discord_alert.rs) generalized to any chat-platform
// webhook.
package alertsink

import (
	"context"

	"github.com/ops-automation/eventpipe/pkg/event"
)

// Severity-to-color constants, decimal RGB, matching the original
// DiscordAlert::colors module.
const (
	ColorCritical uint32 = 15158332 // #E74C3C
	ColorWarning  uint32 = 16776960 // #FFFF00
	ColorInfo     uint32 = 3066993  // #2ECC71
)

// ColorForSeverity maps a severity to its alert color.
func ColorForSeverity(severity event.Severity) uint32 {
	switch severity {
	case event.SeverityCritical:
		return ColorCritical
	case event.SeverityWarning:
		return ColorWarning
	default:
		return ColorInfo
	}
}

// EmojiForSeverity mirrors the original send_error_alert's severity_emoji.
func EmojiForSeverity(severity event.Severity) string {
	switch severity {
	case event.SeverityCritical:
		return ":red_circle:"
	case event.SeverityWarning:
		return ":orange_circle:"
	default:
		return ":large_blue_circle:"
	}
}

// Field is one name/value pair attached to an alert, inline by default.
type Field struct {
	Name  string
	Value string
}

// Embed is a chat-platform-agnostic rich alert message: a title, a
// description, a severity color, and a set of detail fields. Concrete
// sinks translate it into their own wire shape (Slack attachment,
// Discord embed, ...).
type Embed struct {
	Title       string
	Description string
	Color       uint32
	Fields      []Field
	Timestamp   string
}

// AlertSink delivers alerts built from monitoring events to a chat
// platform. Implementations must treat a disabled sink as a no-op success
// rather than an error, matching DiscordAlert::disabled's behavior.
type AlertSink interface {
	// SendEventAlert builds and sends an alert derived from evt's Data
	// (error_code, severity, message, target, request_id).
	SendEventAlert(ctx context.Context, evt event.Event) error
	// SendErrorAlert sends an alert built from explicit fields, for
	// callers that already have the pieces parsed out.
	SendErrorAlert(ctx context.Context, errorCode, message string, severity event.Severity, fields []Field) error
	// Enabled reports whether the sink will actually deliver, mirroring
	// DiscordAlert::is_enabled.
	Enabled() bool
}

// BuildEventEmbed assembles the Embed for a monitoring.error_detected
// event the way the original send_event_alert does: error_code defaults
// to "UNKNOWN", message to "No message provided", target/request_id
// become detail fields (falling back to "unknown"/"-"), and severity
// defaults to info if absent or unparsable.
func BuildEventEmbed(evt event.Event) Embed {
	errorCode := stringDataOr(evt, "error_code", "UNKNOWN")
	message := stringDataOr(evt, "message", "No message provided")
	target := stringDataOr(evt, "target", "unknown")
	requestID := stringDataOr(evt, "request_id", "-")
	severityStr := stringDataOr(evt, "severity", "info")

	severity, err := event.ParseSeverity(severityStr)
	if err != nil {
		severity = event.SeverityInfo
	}

	return Embed{
		Title:       EmojiForSeverity(severity) + " Error: " + errorCode,
		Description: message,
		Color:       ColorForSeverity(severity),
		Fields: []Field{
			{Name: "Target", Value: target},
			{Name: "Request ID", Value: requestID},
			{Name: "Event ID", Value: evt.ID.String()},
		},
	}
}

func stringDataOr(evt event.Event, key, fallback string) string {
	if v, ok := evt.Data[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
