package trigger

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/ratelimit"
)

// Builder assembles a Filter from environment variables, mirroring the
// original TriggerFilterBuilder.
type Builder struct {
	filter *Filter
}

// NewBuilder starts a builder wrapping a fresh, active Filter.
func NewBuilder(log logr.Logger) *Builder {
	return &Builder{filter: New(log)}
}

func splitEnvList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFromEnv reads TRIGGER_ENABLED_EVENTS, TRIGGER_ALLOWED_USERS,
// TRIGGER_IGNORED_ERROR_CODES, and TRIGGER_MIN_SEVERITY (each comma
// separated, except the last), applying whichever are set.
func (b *Builder) LoadFromEnv() *Builder {
	if events, ok := os.LookupEnv("TRIGGER_ENABLED_EVENTS"); ok {
		b.filter.enabledEvents = toSet(splitEnvList(events))
	}
	if users, ok := os.LookupEnv("TRIGGER_ALLOWED_USERS"); ok {
		b.filter.allowedUsers = toSet(splitEnvList(users))
	}
	if codes, ok := os.LookupEnv("TRIGGER_IGNORED_ERROR_CODES"); ok {
		b.filter.ignoredErrorCodes = toSet(splitEnvList(codes))
	}
	if severityStr, ok := os.LookupEnv("TRIGGER_MIN_SEVERITY"); ok {
		if severity, err := event.ParseSeverity(severityStr); err == nil {
			b.filter.minSeverity = severity
		}
	}
	return b
}

// WithRateLimiter attaches a pre-built rate limiter.
func (b *Builder) WithRateLimiter(limiter ratelimit.RateLimiter) *Builder {
	b.filter.rateLimiter = limiter
	return b
}

// WithRateLimitConfig attaches a new rate limiter built from config.
func (b *Builder) WithRateLimitConfig(config ratelimit.Config) *Builder {
	b.filter.rateLimiter = ratelimit.New(config)
	return b
}

// WithDefaultRateLimiting attaches a rate limiter using
// ratelimit.DefaultConfig.
func (b *Builder) WithDefaultRateLimiting() *Builder {
	b.filter.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	return b
}

func parseEnvUint(name string, fallback uint32) uint32 {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fallback
	}
	return uint32(parsed)
}

// LoadRateLimitsFromEnv attaches a rate limiter configured from
// RATE_LIMIT_API_CALLS_PER_MINUTE, RATE_LIMIT_BRANCH_CREATIONS_PER_HOUR,
// and RATE_LIMIT_PR_CREATIONS_PER_HOUR, falling back to
// ratelimit.DefaultConfig's values for any unset or unparsable variable.
func (b *Builder) LoadRateLimitsFromEnv() *Builder {
	defaults := ratelimit.DefaultConfig()
	config := ratelimit.Config{
		ApiCallsPerMinute:      parseEnvUint("RATE_LIMIT_API_CALLS_PER_MINUTE", defaults.ApiCallsPerMinute),
		BranchCreationsPerHour: parseEnvUint("RATE_LIMIT_BRANCH_CREATIONS_PER_HOUR", defaults.BranchCreationsPerHour),
		PrCreationsPerHour:     parseEnvUint("RATE_LIMIT_PR_CREATIONS_PER_HOUR", defaults.PrCreationsPerHour),
	}
	b.filter.rateLimiter = ratelimit.New(config)
	return b
}

// Build returns the assembled Filter.
func (b *Builder) Build() *Filter {
	return b.filter
}
