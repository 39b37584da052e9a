package event_test

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ops-automation/eventpipe/pkg/event"
)

var _ = Describe("Event", func() {
	Describe("auto priority", func() {
		It("assigns P0 for critical monitoring errors", func() {
			e := event.NewWithAutoPriority("monitoring.error_detected", "log-watcher", map[string]interface{}{
				"error_code": "AI5001",
				"severity":   "critical",
			})
			Expect(e.Priority).To(Equal(event.PriorityP0))
			Expect(e.Status).To(Equal(event.StatusPending))
		})

		It("assigns P1 for warning monitoring errors", func() {
			e := event.NewWithAutoPriority("monitoring.error_detected", "log-watcher", map[string]interface{}{
				"severity": "warning",
			})
			Expect(e.Priority).To(Equal(event.PriorityP1))
		})

		It("assigns P2 for monitoring errors with no or unknown severity", func() {
			e := event.NewWithAutoPriority("monitoring.error_detected", "log-watcher", nil)
			Expect(e.Priority).To(Equal(event.PriorityP2))
			unknown := event.NewWithAutoPriority("monitoring.error_detected", "log-watcher", map[string]interface{}{
				"severity": "bogus",
			})
			Expect(unknown.Priority).To(Equal(event.PriorityP2))
		})

		It("assigns P1 to discord.command and its sub-commands", func() {
			Expect(event.NewWithAutoPriority("discord.command", "discord", nil).Priority).To(Equal(event.PriorityP1))
			Expect(event.NewWithAutoPriority("discord.command.analyze", "discord", nil).Priority).To(Equal(event.PriorityP1))
		})

		It("assigns P1 to issue events and P2 to PR events", func() {
			Expect(event.NewWithAutoPriority("github.issue_opened", "github", nil).Priority).To(Equal(event.PriorityP1))
			Expect(event.NewWithAutoPriority("github.pr_opened", "github", nil).Priority).To(Equal(event.PriorityP2))
		})

		It("assigns P3 to everything else", func() {
			Expect(event.NewWithAutoPriority("some.other.thing", "test", nil).Priority).To(Equal(event.PriorityP3))
		})
	})

	Describe("ParseSeverity", func() {
		It("parses case-insensitively", func() {
			s, err := event.ParseSeverity("CRITICAL")
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal(event.SeverityCritical))
		})

		It("rejects unknown values", func() {
			_, err := event.ParseSeverity("unknown")
			Expect(err).To(HaveOccurred())
		})

		It("totally orders info < warning < critical", func() {
			Expect(event.SeverityInfo < event.SeverityWarning).To(BeTrue())
			Expect(event.SeverityWarning < event.SeverityCritical).To(BeTrue())
		})
	})

	Describe("IsDuplicateOf", func() {
		It("is symmetric and reflexive on fingerprint equality", func() {
			a := event.New("test.event", "test", event.PriorityP1, nil).WithFingerprint("fp-1")
			b := event.New("test.event", "test", event.PriorityP1, nil).WithFingerprint("fp-1")
			c := event.New("test.event", "test", event.PriorityP1, nil).WithFingerprint("fp-2")

			Expect(a.IsDuplicateOf(b)).To(BeTrue())
			Expect(b.IsDuplicateOf(a)).To(BeTrue())
			Expect(a.IsDuplicateOf(a)).To(BeTrue())
			Expect(a.IsDuplicateOf(c)).To(BeFalse())
		})
	})

	Describe("Filename", func() {
		It("encodes priority digit and id", func() {
			e := event.New("test.event", "test", event.PriorityP0, nil)
			name := e.Filename()
			Expect(name).To(HavePrefix("p0_"))
			Expect(name).To(HaveSuffix(".json"))
			Expect(name).To(ContainSubstring(e.ID.String()))
		})
	})

	Describe("JSON serialization", func() {
		It("uses camelCase keys and lowercase enums", func() {
			e := event.New("test.event", "test", event.PriorityP1, map[string]interface{}{"testField": "value"})
			raw, err := json.Marshal(e)
			Expect(err).NotTo(HaveOccurred())
			body := string(raw)

			Expect(body).To(ContainSubstring(`"eventType"`))
			Expect(body).To(ContainSubstring(`"retryCount"`))
			Expect(body).To(ContainSubstring(`"priority":"p1"`))
			Expect(strings.Contains(body, "event_type")).To(BeFalse())
		})

		It("round-trips through JSON", func() {
			e := event.New("test.event", "test", event.PriorityP1, map[string]interface{}{"testField": "value"}).
				WithUser("octocat").WithCorrelationID("corr-1")

			raw, err := json.Marshal(e)
			Expect(err).NotTo(HaveOccurred())

			var decoded event.Event
			Expect(json.Unmarshal(raw, &decoded)).To(Succeed())

			Expect(decoded.ID).To(Equal(e.ID))
			Expect(decoded.EventType).To(Equal(e.EventType))
			Expect(decoded.Priority).To(Equal(e.Priority))
			Expect(*decoded.Metadata.User).To(Equal("octocat"))
			Expect(*decoded.Metadata.CorrelationID).To(Equal("corr-1"))
		})

		It("deserializes the wire example from the spec", func() {
			raw := []byte(`{
				"id": "550e8400-e29b-41d4-a716-446655440000",
				"eventType": "test.event",
				"source": "test",
				"timestamp": "2025-01-31T14:23:45Z",
				"priority": "p1",
				"data": {"testField": "value"},
				"metadata": {
					"fingerprint": "test_fp",
					"correlationId": null,
					"user": "testuser",
					"attributes": {}
				},
				"retryCount": 0,
				"status": "pending"
			}`)

			var e event.Event
			Expect(json.Unmarshal(raw, &e)).To(Succeed())
			Expect(e.EventType).To(Equal("test.event"))
			Expect(e.Priority).To(Equal(event.PriorityP1))
			Expect(*e.Metadata.User).To(Equal("testuser"))
			Expect(e.Metadata.CorrelationID).To(BeNil())
		})
	})
})
