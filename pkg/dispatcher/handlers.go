package dispatcher

import (
	"context"

	"github.com/ops-automation/eventpipe/pkg/event"
)

// handleDiscordEvent processes discord.command* events, mirroring
// EventProcessor::handle_discord_event's command dispatch. The actual
// command implementations (analyze/fix/review/status) are business logic
// out of scope here; this records which command arrived and acknowledges
// it so the queue can mark the event complete.
func (d *Dispatcher) handleDiscordEvent(_ context.Context, evt event.Event) error {
	command := stringDataOr(evt, "command", "unknown")
	args := stringDataOr(evt, "args", "")
	channelID := stringDataOr(evt, "channel_id", "")

	d.log.Info("processing discord command",
		"command", command, "args", args, "channel_id", channelID)

	switch command {
	case "analyze", "fix", "review", "status":
		d.log.Info("discord command received", "command", command)
	default:
		d.log.Info("unknown discord command", "command", command)
	}

	return nil
}

// handleGithubEvent processes github.* events, mirroring
// EventProcessor::handle_github_event's per-type logging. Like the
// original, the actual automation (ai-fix label handling, @ai-bot mention
// detection, auto-review) is out of scope; this acknowledges the event.
func (d *Dispatcher) handleGithubEvent(_ context.Context, evt event.Event) error {
	action := stringDataOr(evt, "action", "unknown")
	d.log.Info("processing github event", "event_type", evt.EventType, "action", action)

	switch evt.EventType {
	case "github.issue_labeled":
		label := stringDataOr(evt, "label", "")
		d.log.Info("issue labeled", "label", label)
	case "github.issue_opened":
		d.log.Info("new issue opened")
	case "github.issue_comment_created":
		d.log.Info("issue comment created")
	case "github.pr_opened":
		d.log.Info("pr opened")
	case "github.pr_labeled":
		label := stringDataOr(evt, "label", "")
		d.log.Info("pr labeled", "label", label)
	default:
		d.log.V(1).Info("unhandled github event type", "event_type", evt.EventType)
	}

	return nil
}
