// Package event defines the Event schema shared by every source and
// handler in the pipeline: the log watcher, the chat-platform and
// source-forge webhooks, the queue, and the dispatcher.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders events for dispatch. Lower values are higher priority.
type Priority int

const (
	PriorityP0 Priority = iota
	PriorityP1
	PriorityP2
	PriorityP3
)

// String renders the lowercase wire form ("p0".."p3").
func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "p0"
	case PriorityP1:
		return "p1"
	case PriorityP2:
		return "p2"
	case PriorityP3:
		return "p3"
	default:
		return fmt.Sprintf("p%d", int(p))
	}
}

// Digit returns the single-character priority digit used in queue filenames.
func (p Priority) Digit() byte {
	return byte('0' + int(p))
}

// MarshalJSON serializes the priority as its lowercase wire string.
func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// UnmarshalJSON parses the lowercase wire string back into a Priority.
func (p *Priority) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "p0":
		*p = PriorityP0
	case "p1":
		*p = PriorityP1
	case "p2":
		*p = PriorityP2
	case "p3":
		*p = PriorityP3
	default:
		return fmt.Errorf("invalid priority value: %q", s)
	}
	return nil
}

// FromEventType derives priority from event type and payload per the
// auto-priority table.
func FromEventType(eventType string, data map[string]interface{}) Priority {
	switch {
	case eventType == "monitoring.error_detected":
		severity, _ := data["severity"].(string)
		switch severity {
		case "critical":
			return PriorityP0
		case "warning":
			return PriorityP1
		default:
			return PriorityP2
		}
	case eventType == "discord.command" || strings.HasPrefix(eventType, "discord.command."):
		return PriorityP1
	case eventType == "github.issue_labeled",
		eventType == "github.issue_comment_created",
		eventType == "github.issue_opened":
		return PriorityP1
	case eventType == "github.pr_opened", eventType == "github.pr_labeled":
		return PriorityP2
	default:
		return PriorityP3
	}
}

// Severity totally orders log/monitoring severity: Info < Warning < Critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity parses a severity case-insensitively. Any other value is an
// input error — callers that want an "info" fallback must apply it
// themselves rather than relying on this function to hide the error.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("invalid severity value: expected 'info', 'warning', or 'critical', got %q", s)
	}
}

// Status tracks an event's position in its (at most one) retry attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Metadata carries dedup and correlation context for an Event.
type Metadata struct {
	Fingerprint   string            `json:"fingerprint"`
	CorrelationID *string           `json:"correlationId"`
	User          *string           `json:"user"`
	Attributes    map[string]string `json:"attributes"`
}

// NewMetadata builds metadata with a fresh random fingerprint, matching the
// default a caller gets when they don't supply one of their own.
func NewMetadata() Metadata {
	return Metadata{
		Fingerprint: uuid.NewString(),
		Attributes:  map[string]string{},
	}
}

// Event is the central record flowing through the pipeline.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	EventType  string                 `json:"eventType"`
	Source     string                 `json:"source"`
	Timestamp  time.Time              `json:"timestamp"`
	Priority   Priority               `json:"priority"`
	Data       map[string]interface{} `json:"data"`
	Metadata   Metadata               `json:"metadata"`
	RetryCount uint32                 `json:"retryCount"`
	Status     Status                 `json:"status"`
}

// New creates an event with an explicit priority.
func New(eventType, source string, priority Priority, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{
		ID:         uuid.New(),
		EventType:  eventType,
		Source:     source,
		Timestamp:  time.Now().UTC(),
		Priority:   priority,
		Data:       data,
		Metadata:   NewMetadata(),
		RetryCount: 0,
		Status:     StatusPending,
	}
}

// NewWithAutoPriority creates an event whose priority is derived from its
// type and data per the auto-priority table.
func NewWithAutoPriority(eventType, source string, data map[string]interface{}) Event {
	return New(eventType, source, FromEventType(eventType, data), data)
}

// WithMetadata replaces the event's metadata wholesale.
func (e Event) WithMetadata(m Metadata) Event {
	e.Metadata = m
	return e
}

// WithFingerprint overrides the dedup fingerprint.
func (e Event) WithFingerprint(fingerprint string) Event {
	e.Metadata.Fingerprint = fingerprint
	return e
}

// WithUser attaches a user/login to the event's metadata.
func (e Event) WithUser(user string) Event {
	e.Metadata.User = &user
	return e
}

// WithCorrelationID attaches a correlation id to the event's metadata.
func (e Event) WithCorrelationID(id string) Event {
	e.Metadata.CorrelationID = &id
	return e
}

// IsDuplicateOf reports whether two events represent the same occurrence.
func (e Event) IsDuplicateOf(other Event) bool {
	return e.Metadata.Fingerprint == other.Metadata.Fingerprint
}

// Filename returns the queue filename for this event:
// "p{priority_digit}_{id}.json".
func (e Event) Filename() string {
	return fmt.Sprintf("p%c_%s.json", e.Priority.Digit(), e.ID.String())
}
