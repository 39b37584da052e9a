package trigger_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/ratelimit"
	"github.com/ops-automation/eventpipe/pkg/trigger"
)

func monitoringEvent(errorCode, severity string) event.Event {
	return event.New("monitoring.error_detected", "log-watcher", event.PriorityP0, map[string]interface{}{
		"error_code": errorCode,
		"severity":   severity,
		"message":    "Test error",
	})
}

func discordEvent(user string) event.Event {
	evt := event.New("discord.command", "discord", event.PriorityP1, map[string]interface{}{
		"command": "analyze",
		"args":    "test",
	})
	return evt.WithUser(user)
}

var _ = Describe("Filter", func() {
	It("always triggers when inactive", func() {
		filter := trigger.AllowAll(logr.Discard())
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "info"))).To(BeTrue())
	})

	It("filters by event type", func() {
		filter := trigger.New(logr.Discard()).WithEnabledEvents([]string{"discord.command"})

		Expect(filter.ShouldTrigger(discordEvent("testuser"))).To(BeTrue())
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "critical"))).To(BeFalse())
	})

	It("filters by user whitelist", func() {
		filter := trigger.New(logr.Discard()).WithAllowedUsers([]string{"admin", "developer"})

		Expect(filter.ShouldTrigger(discordEvent("admin"))).To(BeTrue())
		Expect(filter.ShouldTrigger(discordEvent("random_user"))).To(BeFalse())
	})

	It("allows all users when the whitelist is empty", func() {
		filter := trigger.New(logr.Discard())
		Expect(filter.ShouldTrigger(discordEvent("any_user"))).To(BeTrue())
	})

	It("filters by ignored error codes", func() {
		filter := trigger.New(logr.Discard()).
			WithIgnoredErrorCodes([]string{"AUTH4001", "AUTH4002"}).
			WithMinSeverity(event.SeverityInfo)

		Expect(filter.ShouldTrigger(monitoringEvent("AUTH4001", "warning"))).To(BeFalse())
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "warning"))).To(BeTrue())
	})

	It("filters by minimum severity", func() {
		filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityWarning)

		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "critical"))).To(BeTrue())
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "warning"))).To(BeTrue())
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "info"))).To(BeFalse())
	})

	It("applies all filters together", func() {
		filter := trigger.New(logr.Discard()).
			WithEnabledEvents([]string{"monitoring.error_detected"}).
			WithMinSeverity(event.SeverityWarning).
			WithIgnoredErrorCodes([]string{"AUTH4001"})

		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "critical"))).To(BeTrue())
		Expect(filter.ShouldTrigger(discordEvent("admin"))).To(BeFalse())
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "info"))).To(BeFalse())
		Expect(filter.ShouldTrigger(monitoringEvent("AUTH4001", "critical"))).To(BeFalse())
	})

	It("supports the builder-style chained setters", func() {
		filter := trigger.New(logr.Discard()).
			EnableEvent("monitoring.error_detected").
			EnableEvent("discord.command").
			AllowUser("admin").
			IgnoreErrorCode("AUTH4001").
			WithMinSeverity(event.SeverityWarning).
			WithActive(true)

		Expect(filter.IsActive()).To(BeTrue())
		Expect(filter.EnabledEvents()).To(HaveKey("monitoring.error_detected"))
		Expect(filter.EnabledEvents()).To(HaveKey("discord.command"))
		Expect(filter.AllowedUsers()).To(HaveKey("admin"))
		Expect(filter.IgnoredErrorCodes()).To(HaveKey("AUTH4001"))
		Expect(filter.MinSeverity()).To(Equal(event.SeverityWarning))
	})

	It("blocks events without a user when a whitelist is configured", func() {
		filter := trigger.New(logr.Discard()).WithAllowedUsers([]string{"admin", "developer"})
		evt := event.New("discord.command", "discord", event.PriorityP1, map[string]interface{}{
			"command": "analyze",
			"args":    "test",
		})
		Expect(filter.ShouldTrigger(evt)).To(BeFalse())
	})

	It("treats an invalid severity value as Info", func() {
		filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityWarning)
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "invalid_value"))).To(BeFalse())
	})

	It("allows an invalid severity value when the minimum is Info", func() {
		filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo)
		Expect(filter.ShouldTrigger(monitoringEvent("AI5001", "invalid_value"))).To(BeTrue())
	})

	It("treats a monitoring event without a severity field as Info", func() {
		filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityWarning)
		evt := event.New("monitoring.error_detected", "log-watcher", event.PriorityP0, map[string]interface{}{
			"error_code": "AI5001",
			"message":    "Test error",
		})
		Expect(filter.ShouldTrigger(evt)).To(BeFalse())
	})

	It("allows a non-monitoring event without a severity field", func() {
		filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityWarning)
		evt := event.New("discord.command", "discord", event.PriorityP1, map[string]interface{}{
			"command": "analyze",
			"args":    "test",
		})
		Expect(filter.ShouldTrigger(evt)).To(BeTrue())
	})

	Describe("rate limit integration", func() {
		apiEvent := func() event.Event {
			return event.New("api.request", "api-gateway", event.PriorityP1, map[string]interface{}{
				"endpoint": "/health",
				"method":   "GET",
			})
		}
		branchEvent := func() event.Event {
			return event.New("git.branch.create", "git-handler", event.PriorityP1, map[string]interface{}{
				"branch_name": "fix/test-branch",
			})
		}
		prEvent := func() event.Event {
			return event.New("github.pull_request.create", "github-handler", event.PriorityP1, map[string]interface{}{
				"title": "Fix: Test PR",
				"base":  "dev",
			})
		}

		It("allows events when no rate limiter is configured", func() {
			filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo)
			evt := apiEvent()
			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
		})

		It("blocks events once rate limited", func() {
			limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 2, BranchCreationsPerHour: 5, PrCreationsPerHour: 2})
			filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo).WithRateLimiter(limiter)
			evt := apiEvent()

			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeFalse())
		})

		It("maps branch events to the branch creation limit", func() {
			limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 10, BranchCreationsPerHour: 2, PrCreationsPerHour: 10})
			filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo).WithRateLimiter(limiter)
			evt := branchEvent()

			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeFalse())
		})

		It("maps PR events to the PR creation limit", func() {
			limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 10, BranchCreationsPerHour: 10, PrCreationsPerHour: 1})
			filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo).WithRateLimiter(limiter)
			evt := prEvent()

			Expect(filter.ShouldTrigger(evt)).To(BeTrue())
			Expect(filter.ShouldTrigger(evt)).To(BeFalse())
		})

		It("exposes CheckRateLimit directly", func() {
			limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 2, BranchCreationsPerHour: 5, PrCreationsPerHour: 2})
			filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo).WithRateLimiter(limiter)

			Expect(filter.CheckRateLimit(ratelimit.ApiCall)).To(BeTrue())
			Expect(filter.CheckRateLimit(ratelimit.ApiCall)).To(BeTrue())
			Expect(filter.CheckRateLimit(ratelimit.ApiCall)).To(BeFalse())
		})

		It("CheckRateLimit is always true without a limiter", func() {
			filter := trigger.New(logr.Discard())
			Expect(filter.CheckRateLimit(ratelimit.ApiCall)).To(BeTrue())
			Expect(filter.CheckRateLimit(ratelimit.ApiCall)).To(BeTrue())
		})

		It("exposes WouldBeRateLimited without recording", func() {
			limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 2, BranchCreationsPerHour: 5, PrCreationsPerHour: 2})
			filter := trigger.New(logr.Discard()).WithMinSeverity(event.SeverityInfo).WithRateLimiter(limiter)

			Expect(filter.WouldBeRateLimited(ratelimit.ApiCall)).To(BeFalse())

			filter.CheckRateLimit(ratelimit.ApiCall)
			filter.CheckRateLimit(ratelimit.ApiCall)

			Expect(filter.WouldBeRateLimited(ratelimit.ApiCall)).To(BeTrue())
		})

		It("exposes the configured rate limiter", func() {
			limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 5, BranchCreationsPerHour: 10, PrCreationsPerHour: 3})
			filter := trigger.New(logr.Discard()).WithRateLimiter(limiter)

			Expect(filter.RateLimiter()).NotTo(BeNil())
			Expect(filter.RateLimiter().(*ratelimit.Limiter).Config().ApiCallsPerMinute).To(Equal(uint32(5)))
		})

		It("returns nil when no rate limiter is configured", func() {
			filter := trigger.New(logr.Discard())
			Expect(filter.RateLimiter()).To(BeNil())
		})
	})

	Describe("event to rate limit action mapping", func() {
		DescribeTable("maps event types to the correct action",
			func(eventType string, expected ratelimit.Action) {
				evt := event.New(eventType, "source", event.PriorityP1, map[string]interface{}{})
				Expect(trigger.EventToRateLimitAction(evt)).To(Equal(expected))
			},
			Entry("branch event", "git.branch.create", ratelimit.BranchCreation),
			Entry("pull_request event", "github.pull_request.create", ratelimit.PrCreation),
			Entry("PR variant", "github.PR.opened", ratelimit.PrCreation),
			Entry("generic monitoring event", "monitoring.error_detected", ratelimit.ApiCall),
			Entry("discord event", "discord.command", ratelimit.ApiCall),
			Entry("approve is not a PR event", "github.approve", ratelimit.ApiCall),
			Entry("prepare is not a PR event", "workflow.prepare", ratelimit.ApiCall),
			Entry("profile is not a PR event", "user.profile.update", ratelimit.ApiCall),
			Entry("reprocess is not a PR event", "job.reprocess", ratelimit.ApiCall),
			Entry("deprecation is not a PR event", "api.deprecation.warning", ratelimit.ApiCall),
			Entry("compress is not a PR event", "file.compress", ratelimit.ApiCall),
			Entry("pr segment at start", "pr.created", ratelimit.PrCreation),
			Entry("pr segment at end", "github.pr", ratelimit.PrCreation),
			Entry("pr segment in middle", "github.pr.created", ratelimit.PrCreation),
			Entry("exact pr event type", "pr", ratelimit.PrCreation),
			Entry("pr case insensitive", "github.PR.opened", ratelimit.PrCreation),
			Entry("branch case insensitive", "git.Branch.create", ratelimit.BranchCreation),
			Entry("pull_request case insensitive", "github.Pull_Request.create", ratelimit.PrCreation),
		)
	})
})
