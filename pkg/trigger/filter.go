// Package trigger implements the event filtering and rate-limit routing
// from the original TriggerFilter (trigger.rs): an event-type whitelist,
// a user whitelist, an error-code blacklist, a minimum severity, and an
// optional rate limiter keyed off the event type.
package trigger

import (
	"strings"

	"github.com/go-logr/logr"

	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/ratelimit"
)

// Filter decides whether an event should be dispatched.
type Filter struct {
	enabledEvents     map[string]struct{}
	allowedUsers      map[string]struct{}
	ignoredErrorCodes map[string]struct{}
	minSeverity       event.Severity
	active            bool
	rateLimiter       ratelimit.RateLimiter
	log               logr.Logger
}

// New returns an active filter with no whitelists/blacklists configured,
// a minimum severity of Warning, and no rate limiter — matching the
// original's Default impl.
func New(log logr.Logger) *Filter {
	return &Filter{
		enabledEvents:     map[string]struct{}{},
		allowedUsers:      map[string]struct{}{},
		ignoredErrorCodes: map[string]struct{}{},
		minSeverity:       event.SeverityWarning,
		active:            true,
		log:               log,
	}
}

// AllowAll returns an inactive filter: should_trigger always returns true.
func AllowAll(log logr.Logger) *Filter {
	f := New(log)
	f.active = false
	return f
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// WithEnabledEvents sets the event-type whitelist (empty = all enabled).
func (f *Filter) WithEnabledEvents(events []string) *Filter {
	f.enabledEvents = toSet(events)
	return f
}

// EnableEvent adds a single event type to the whitelist.
func (f *Filter) EnableEvent(eventType string) *Filter {
	f.enabledEvents[eventType] = struct{}{}
	return f
}

// WithAllowedUsers sets the user whitelist (empty = all allowed).
func (f *Filter) WithAllowedUsers(users []string) *Filter {
	f.allowedUsers = toSet(users)
	return f
}

// AllowUser adds a single user to the whitelist.
func (f *Filter) AllowUser(user string) *Filter {
	f.allowedUsers[user] = struct{}{}
	return f
}

// WithIgnoredErrorCodes sets the error-code blacklist.
func (f *Filter) WithIgnoredErrorCodes(codes []string) *Filter {
	f.ignoredErrorCodes = toSet(codes)
	return f
}

// IgnoreErrorCode adds a single error code to the blacklist.
func (f *Filter) IgnoreErrorCode(code string) *Filter {
	f.ignoredErrorCodes[code] = struct{}{}
	return f
}

// WithMinSeverity sets the minimum severity required to trigger.
func (f *Filter) WithMinSeverity(severity event.Severity) *Filter {
	f.minSeverity = severity
	return f
}

// WithActive sets whether the filter is active.
func (f *Filter) WithActive(active bool) *Filter {
	f.active = active
	return f
}

// WithRateLimiter attaches a rate limiter, in-process or Redis-backed.
func (f *Filter) WithRateLimiter(limiter ratelimit.RateLimiter) *Filter {
	f.rateLimiter = limiter
	return f
}

// RateLimiter returns the attached rate limiter, or nil if none configured.
func (f *Filter) RateLimiter() ratelimit.RateLimiter {
	return f.rateLimiter
}

// CheckRateLimit reports whether action is allowed and records it. Always
// true when no rate limiter is configured.
func (f *Filter) CheckRateLimit(action ratelimit.Action) bool {
	if f.rateLimiter == nil {
		return true
	}
	return f.rateLimiter.TryAcquire(action)
}

// WouldBeRateLimited reports whether action would currently be blocked,
// without recording it. Always false when no rate limiter is configured.
func (f *Filter) WouldBeRateLimited(action ratelimit.Action) bool {
	if f.rateLimiter == nil {
		return false
	}
	return !f.rateLimiter.Check(action)
}

func (f *Filter) EnabledEvents() map[string]struct{}     { return f.enabledEvents }
func (f *Filter) AllowedUsers() map[string]struct{}      { return f.allowedUsers }
func (f *Filter) IgnoredErrorCodes() map[string]struct{} { return f.ignoredErrorCodes }
func (f *Filter) MinSeverity() event.Severity            { return f.minSeverity }
func (f *Filter) IsActive() bool                         { return f.active }

// ShouldTrigger applies the filter pipeline: event-type whitelist, user
// whitelist, error-code blacklist, minimum severity, then rate limit.
func (f *Filter) ShouldTrigger(evt event.Event) bool {
	if !f.active {
		return true
	}

	if len(f.enabledEvents) > 0 {
		if _, ok := f.enabledEvents[evt.EventType]; !ok {
			f.log.V(1).Info("event type not in enabled list, skipping", "event_type", evt.EventType)
			return false
		}
	}

	if len(f.allowedUsers) > 0 {
		if evt.Metadata.User == nil {
			f.log.V(1).Info("event has no user but allowed_users is configured, skipping")
			return false
		}
		if _, ok := f.allowedUsers[*evt.Metadata.User]; !ok {
			f.log.V(1).Info("user not in allowed list, skipping", "user", *evt.Metadata.User)
			return false
		}
	}

	if errorCode, ok := evt.Data["error_code"].(string); ok {
		if _, blocked := f.ignoredErrorCodes[errorCode]; blocked {
			f.log.V(1).Info("error code in ignored list, skipping", "error_code", errorCode)
			return false
		}
	}

	if !f.checkSeverity(evt) {
		return false
	}

	if f.rateLimiter != nil {
		action := EventToRateLimitAction(evt)
		if !f.rateLimiter.TryAcquire(action) {
			f.log.Info("event blocked by rate limiter", "event_id", evt.ID.String(), "event_type", evt.EventType)
			return false
		}
	}

	f.log.V(1).Info("event passed trigger filter", "event_id", evt.ID.String(), "event_type", evt.EventType)
	return true
}

// checkSeverity applies rule 4 from the original: events carrying a
// severity field are checked against it (an unparsable value is treated as
// Info); monitoring.* events without one are also treated as Info; every
// other event without a severity field passes unconditionally.
func (f *Filter) checkSeverity(evt event.Event) bool {
	severityStr, hasSeverity := evt.Data["severity"].(string)
	if !hasSeverity {
		if strings.HasPrefix(evt.EventType, "monitoring.") {
			return event.SeverityInfo >= f.minSeverity
		}
		return true
	}

	severity, err := event.ParseSeverity(severityStr)
	if err != nil {
		f.log.V(1).Info("invalid severity value, treating as Info level", "severity_str", severityStr)
		return event.SeverityInfo >= f.minSeverity
	}

	if severity < f.minSeverity {
		f.log.V(1).Info("severity below minimum, skipping", "severity", severity.String(), "min_severity", f.minSeverity.String())
		return false
	}
	return true
}

// EventToRateLimitAction maps an event type to a rate-limit bucket.
// Matching rules:
//   - contains "branch" (case-insensitive) -> BranchCreation
//   - contains "pull_request" (case-insensitive), or "pr" as a distinct
//     segment -> PrCreation
//   - everything else -> ApiCall
func EventToRateLimitAction(evt event.Event) ratelimit.Action {
	lower := strings.ToLower(evt.EventType)

	if strings.Contains(lower, "branch") {
		return ratelimit.BranchCreation
	}
	if strings.Contains(lower, "pull_request") {
		return ratelimit.PrCreation
	}
	if containsPrSegment(lower) {
		return ratelimit.PrCreation
	}
	return ratelimit.ApiCall
}

// containsPrSegment avoids false positives like "approve", "prepare",
// "profile", "reprocess", "deprecation", "compress" — "pr" only counts as
// a PR marker when it stands as its own dot-delimited segment.
func containsPrSegment(eventType string) bool {
	return eventType == "pr" ||
		strings.HasPrefix(eventType, "pr.") ||
		strings.HasSuffix(eventType, ".pr") ||
		strings.Contains(eventType, ".pr.")
}
