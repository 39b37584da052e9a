package logwatcher_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ops-automation/eventpipe/pkg/event"
	"github.com/ops-automation/eventpipe/pkg/logwatcher"
)

func TestLogWatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LogWatcher Suite")
}

func newTestDirs() (logDir, stateDir string) {
	base := filepath.Join(os.TempDir(), "logwatcher-test-"+uuid.NewString())
	logDir = filepath.Join(base, "logs")
	stateDir = filepath.Join(base, "state")
	Expect(os.MkdirAll(logDir, 0o755)).To(Succeed())
	return logDir, stateDir
}

func writeTestLogFile(logDir string, date time.Time, content string) string {
	path := filepath.Join(logDir, "server."+date.Format("2006-01-02")+".log")
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	return path
}

var _ = Describe("Watcher", func() {
	var logDir, stateDir string

	BeforeEach(func() {
		logDir, stateDir = newTestDirs()
		DeferCleanup(func() {
			_ = os.RemoveAll(filepath.Dir(logDir))
		})
	})

	It("returns no events when the log file doesn't exist", func() {
		watcher, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		events, err := watcher.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	It("handles an empty log file", func() {
		watcher, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		writeTestLogFile(logDir, time.Now().UTC(), "")

		events, err := watcher.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})

	It("generates events only for ERROR-level entries, with correct priorities", func() {
		watcher, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		content := `{"timestamp":"2026-01-31T14:50:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Critical error"}
{"timestamp":"2026-01-31T14:51:00Z","level":"INFO","target":"server","message":"Info message"}
{"timestamp":"2026-01-31T14:52:00Z","level":"ERROR","target":"server::auth","fields":{"error_code":"AUTH4001"},"message":"Auth error"}`
		writeTestLogFile(logDir, time.Now().UTC(), content)

		events, err := watcher.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].Priority).To(Equal(event.PriorityP0))
		Expect(events[1].Priority).To(Equal(event.PriorityP1))
	})

	It("deduplicates errors with the same fingerprint within the dedup window", func() {
		watcher, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		content := `{"timestamp":"2026-01-31T14:50:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Error 1"}
{"timestamp":"2026-01-31T14:50:01Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Error 2"}`
		writeTestLogFile(logDir, time.Now().UTC(), content)

		events, err := watcher.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Data["message"]).To(Equal("Error 1"))
	})

	It("persists the line cursor across watcher restarts", func() {
		content := `{"timestamp":"2026-01-31T14:50:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Error 1"}`
		writeTestLogFile(logDir, time.Now().UTC(), content)

		watcher1, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		events1, err := watcher1.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events1).To(HaveLen(1))

		watcher2, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		events2, err := watcher2.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events2).To(BeEmpty())
	})

	It("skips invalid JSON lines but processes the valid ones around them", func() {
		watcher, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		content := `{"timestamp":"2026-01-31T14:50:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Valid error"}
this is not valid json
{"timestamp":"2026-01-31T14:52:00Z","level":"ERROR","target":"server::auth","fields":{"error_code":"AUTH4001"},"message":"Another error"}`
		writeTestLogFile(logDir, time.Now().UTC(), content)

		events, err := watcher.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
	})

	It("detects log rotation and resets the line counter", func() {
		today := time.Now().UTC()
		content := `{"timestamp":"2026-01-31T14:50:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5001"},"message":"Error 1"}
{"timestamp":"2026-01-31T14:51:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Error 2"}
{"timestamp":"2026-01-31T14:52:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5003"},"message":"Error 3"}`
		writeTestLogFile(logDir, today, content)

		watcher1, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		events1, err := watcher1.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events1).To(HaveLen(3))

		rotated := `{"timestamp":"2026-01-31T15:00:00Z","level":"ERROR","target":"server::auth","fields":{"error_code":"AUTH4001"},"message":"New error after rotation"}`
		writeTestLogFile(logDir, today, rotated)

		watcher2, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())
		events2, err := watcher2.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events2).To(HaveLen(1))
		Expect(events2[0].Data["message"]).To(Equal("New error after rotation"))
	})

	It("processes a lowercase error level", func() {
		watcher, err := logwatcher.New(logDir, stateDir, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		content := `{"timestamp":"2026-01-31T14:50:00Z","level":"error","target":"server::ai","fields":{"error_code":"AI5002"},"message":"Lowercase error"}`
		writeTestLogFile(logDir, time.Now().UTC(), content)

		events, err := watcher.Watch()
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Data["message"]).To(Equal("Lowercase error"))
	})

	It("reports accessor values from an explicit config", func() {
		watcher, err := logwatcher.WithConfig(logwatcher.Config{
			LogDir:      logDir,
			StateDir:    stateDir,
			DedupWindow: 600 * time.Second,
		}, logr.Discard())
		Expect(err).NotTo(HaveOccurred())

		Expect(watcher.LogDir()).To(Equal(logDir))
		Expect(watcher.StateDir()).To(Equal(stateDir))
		Expect(watcher.DedupWindow()).To(Equal(600 * time.Second))
	})
})

var _ = Describe("ParseLogEntry", func() {
	It("parses a well-formed log line", func() {
		line := `{"timestamp":"2026-01-31T14:50:00Z","level":"ERROR","target":"server::ai","fields":{"error_code":"AI5002","request_id":"req-123"},"message":"Critical error"}`

		entry, ok := logwatcher.ParseLogEntry(line)
		Expect(ok).To(BeTrue())
		Expect(entry.Level).To(Equal("ERROR"))
		Expect(entry.Target).To(Equal("server::ai"))
		Expect(entry.Message).To(Equal("Critical error"))
		Expect(*entry.ErrorCode).To(Equal("AI5002"))
		Expect(*entry.RequestID).To(Equal("req-123"))
	})

	It("parses a log line without a fields object", func() {
		line := `{"timestamp":"2026-01-31T14:50:00Z","level":"INFO","target":"server","message":"Info message"}`

		entry, ok := logwatcher.ParseLogEntry(line)
		Expect(ok).To(BeTrue())
		Expect(entry.ErrorCode).To(BeNil())
		Expect(entry.RequestID).To(BeNil())
	})

	It("rejects invalid JSON", func() {
		_, ok := logwatcher.ParseLogEntry("not json")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("LogEntry", func() {
	entry := func(level string, errorCode *string) logwatcher.LogEntry {
		return logwatcher.LogEntry{
			Level:     level,
			ErrorCode: errorCode,
			Message:   "test",
			Target:    "test",
			Timestamp: time.Now().UTC(),
		}
	}

	strPtr := func(s string) *string { return &s }

	DescribeTable("Fingerprint",
		func(errorCode *string, target, expected string) {
			e := entry("ERROR", errorCode)
			e.Target = target
			Expect(e.Fingerprint()).To(Equal(expected))
		},
		Entry("with an error code", strPtr("AI5002"), "server::ai", "AI5002:server::ai"),
		Entry("without an error code", nil, "server", "UNKNOWN:server"),
	)

	DescribeTable("Severity",
		func(errorCode *string, expected event.Severity) {
			Expect(entry("ERROR", errorCode).Severity()).To(Equal(expected))
		},
		Entry("AI5xxx is critical", strPtr("AI5002"), event.SeverityCritical),
		Entry("AUTH4xxx is warning", strPtr("AUTH4001"), event.SeverityWarning),
		Entry("RETRO4xxx is warning", strPtr("RETRO4001"), event.SeverityWarning),
		Entry("an unrecognized code is info", strPtr("XYZ999"), event.SeverityInfo),
		Entry("no error code is info", nil, event.SeverityInfo),
	)

	It("is serialized with camelCase field names", func() {
		e := entry("ERROR", strPtr("AI5002"))
		e.RequestID = strPtr("req-123")

		var built map[string]interface{}
		data, err := json.Marshal(e)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(data, &built)).To(Succeed())

		Expect(built).To(HaveKey("errorCode"))
		Expect(built).To(HaveKey("requestId"))
		Expect(built).NotTo(HaveKey("error_code"))
		Expect(built).NotTo(HaveKey("request_id"))
	})

	It("checks IsError case-insensitively", func() {
		Expect(entry("ERROR", nil).IsError()).To(BeTrue())
		Expect(entry("error", nil).IsError()).To(BeTrue())
		Expect(entry("Error", nil).IsError()).To(BeTrue())
		Expect(entry("INFO", nil).IsError()).To(BeFalse())
	})

	It("checks IsWarning for both WARN and WARNING, case-insensitively", func() {
		Expect(entry("WARN", nil).IsWarning()).To(BeTrue())
		Expect(entry("WARNING", nil).IsWarning()).To(BeTrue())
		Expect(entry("warning", nil).IsWarning()).To(BeTrue())
		Expect(entry("ERROR", nil).IsWarning()).To(BeFalse())
	})
})
