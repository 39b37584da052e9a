package trigger_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/ops-automation/eventpipe/pkg/ratelimit"
	"github.com/ops-automation/eventpipe/pkg/trigger"
)

var _ = Describe("Builder", func() {
	It("builds with default rate limiting", func() {
		filter := trigger.NewBuilder(logr.Discard()).WithDefaultRateLimiting().Build()

		Expect(filter.RateLimiter()).NotTo(BeNil())
		config := filter.RateLimiter().(*ratelimit.Limiter).Config()
		Expect(config.ApiCallsPerMinute).To(Equal(uint32(10)))
		Expect(config.BranchCreationsPerHour).To(Equal(uint32(20)))
		Expect(config.PrCreationsPerHour).To(Equal(uint32(10)))
	})

	It("builds with a custom rate limit config", func() {
		filter := trigger.NewBuilder(logr.Discard()).
			WithRateLimitConfig(ratelimit.Config{ApiCallsPerMinute: 5, BranchCreationsPerHour: 15, PrCreationsPerHour: 8}).
			Build()

		config := filter.RateLimiter().(*ratelimit.Limiter).Config()
		Expect(config.ApiCallsPerMinute).To(Equal(uint32(5)))
		Expect(config.BranchCreationsPerHour).To(Equal(uint32(15)))
		Expect(config.PrCreationsPerHour).To(Equal(uint32(8)))
	})

	It("builds with a custom rate limiter instance", func() {
		limiter := ratelimit.New(ratelimit.Config{ApiCallsPerMinute: 3, BranchCreationsPerHour: 6, PrCreationsPerHour: 2})
		filter := trigger.NewBuilder(logr.Discard()).WithRateLimiter(limiter).Build()

		Expect(filter.RateLimiter()).NotTo(BeNil())
		Expect(filter.RateLimiter().(*ratelimit.Limiter).Config().ApiCallsPerMinute).To(Equal(uint32(3)))
	})

	It("combines env-loaded filter settings with rate limiting", func() {
		filter := trigger.NewBuilder(logr.Discard()).
			LoadFromEnv().
			WithDefaultRateLimiting().
			Build()

		Expect(filter.RateLimiter()).NotTo(BeNil())
		Expect(filter.IsActive()).To(BeTrue())
	})

	It("loads rate limits from environment variables, falling back to defaults", func() {
		filter := trigger.NewBuilder(logr.Discard()).LoadRateLimitsFromEnv().Build()

		config := filter.RateLimiter().(*ratelimit.Limiter).Config()
		Expect(config.ApiCallsPerMinute).To(Equal(uint32(10)))
		Expect(config.BranchCreationsPerHour).To(Equal(uint32(20)))
		Expect(config.PrCreationsPerHour).To(Equal(uint32(10)))
	})
})
