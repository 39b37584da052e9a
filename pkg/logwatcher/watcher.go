// Package logwatcher tails daily rotating server logs and turns ERROR-level
// entries into events, grounded in the original LogWatcher
// (monitoring/log_watcher.rs): per-day state/dedup files next to the log
// directory, a line-offset cursor, and a rotation/truncation detector that
// resets the cursor when the file shrinks.
package logwatcher

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	apperrors "github.com/ops-automation/eventpipe/internal/errors"
	"github.com/ops-automation/eventpipe/internal/logging"
	"github.com/ops-automation/eventpipe/pkg/event"
)

const (
	defaultDedupWindow = 300 * time.Second
	dirPerm            = 0o755
	filePerm           = 0o644
)

// LogEntry is a parsed line from a server log file.
type LogEntry struct {
	Level     string    `json:"level"`
	ErrorCode *string   `json:"errorCode"`
	Message   string    `json:"message"`
	Target    string    `json:"target"`
	RequestID *string   `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// rawLogEntry mirrors the on-disk log line shape, which nests error_code
// and request_id under "fields" rather than at the top level.
type rawLogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Target    string `json:"target"`
	Fields    *struct {
		ErrorCode *string `json:"error_code"`
		RequestID *string `json:"request_id"`
	} `json:"fields"`
	Message string `json:"message"`
}

// dedupEntry is the on-disk dedup-cache record.
type dedupEntry struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"firstSeen"`
	Count       uint32    `json:"count"`
}

// Fingerprint is "{errorCode|UNKNOWN}:{target}".
func (e LogEntry) Fingerprint() string {
	code := "UNKNOWN"
	if e.ErrorCode != nil {
		code = *e.ErrorCode
	}
	return fmt.Sprintf("%s:%s", code, e.Target)
}

// Severity derives from the error code prefix: AI5* is critical, AUTH4*
// and RETRO4* are warning, everything else is info.
func (e LogEntry) Severity() event.Severity {
	if e.ErrorCode == nil {
		return event.SeverityInfo
	}
	code := *e.ErrorCode
	switch {
	case strings.HasPrefix(code, "AI5"):
		return event.SeverityCritical
	case strings.HasPrefix(code, "AUTH4"), strings.HasPrefix(code, "RETRO4"):
		return event.SeverityWarning
	default:
		return event.SeverityInfo
	}
}

// IsError reports whether the entry's level is ERROR, case-insensitive.
func (e LogEntry) IsError() bool {
	return strings.EqualFold(e.Level, "ERROR")
}

// IsWarning reports whether the entry's level is WARN or WARNING,
// case-insensitive.
func (e LogEntry) IsWarning() bool {
	return strings.EqualFold(e.Level, "WARN") || strings.EqualFold(e.Level, "WARNING")
}

// Config controls where a Watcher reads logs and keeps its cursor/dedup
// state, and how long a fingerprint continues to suppress repeats.
type Config struct {
	LogDir      string
	StateDir    string
	DedupWindow time.Duration
}

// DefaultConfig points at "logs" / "logs/.state" with a 5 minute dedup
// window, matching LogWatcherConfig::default().
func DefaultConfig() Config {
	return Config{
		LogDir:      "logs",
		StateDir:    filepath.Join("logs", ".state"),
		DedupWindow: defaultDedupWindow,
	}
}

// Watcher tails today's log file and emits monitoring.error_detected
// events for new, non-duplicate ERROR entries.
type Watcher struct {
	config     Config
	dedupCache map[string]time.Time
	log        logr.Logger
}

// New creates a Watcher over logDir/stateDir using DefaultConfig's dedup
// window.
func New(logDir, stateDir string, log logr.Logger) (*Watcher, error) {
	return WithConfig(Config{LogDir: logDir, StateDir: stateDir, DedupWindow: defaultDedupWindow}, log)
}

// WithConfig creates a Watcher with an explicit Config.
func WithConfig(config Config, log logr.Logger) (*Watcher, error) {
	if err := os.MkdirAll(config.StateDir, dirPerm); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to create state directory").WithDetails(config.StateDir)
	}

	log.Info("log watcher initialized", logging.WatcherFields("init").
		Custom("log_dir", config.LogDir).Custom("state_dir", config.StateDir).Custom("dedup_window_secs", int(config.DedupWindow.Seconds())).KeysAndValues()...)

	return &Watcher{
		config:     config,
		dedupCache: make(map[string]time.Time),
		log:        log,
	}, nil
}

func (w *Watcher) LogDir() string             { return w.config.LogDir }
func (w *Watcher) StateDir() string           { return w.config.StateDir }
func (w *Watcher) DedupWindow() time.Duration { return w.config.DedupWindow }

func (w *Watcher) logFilePath(date time.Time) string {
	return filepath.Join(w.config.LogDir, fmt.Sprintf("server.%s.log", date.Format("2006-01-02")))
}

func (w *Watcher) stateFilePath(date time.Time) string {
	return filepath.Join(w.config.StateDir, fmt.Sprintf("log-watcher-state-%s", date.Format("2006-01-02")))
}

func (w *Watcher) dedupFilePath(date time.Time) string {
	return filepath.Join(w.config.StateDir, fmt.Sprintf("log-watcher-dedup-%s", date.Format("2006-01-02")))
}

// ParseLogEntry parses a single JSON log line. It returns (LogEntry{},
// false) for anything unparsable, rather than an error — callers skip and
// continue, as the original does.
func ParseLogEntry(line string) (LogEntry, bool) {
	var raw rawLogEntry
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, false
	}

	timestamp, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{
		Level:     raw.Level,
		Message:   raw.Message,
		Target:    raw.Target,
		Timestamp: timestamp.UTC(),
	}
	if raw.Fields != nil {
		entry.ErrorCode = raw.Fields.ErrorCode
		entry.RequestID = raw.Fields.RequestID
	}
	return entry, true
}

// ShouldAlert reports whether entry's fingerprint is not currently
// suppressed by the dedup cache.
func (w *Watcher) ShouldAlert(entry LogEntry) bool {
	firstSeen, ok := w.dedupCache[entry.Fingerprint()]
	if !ok {
		return true
	}
	return time.Since(firstSeen) >= w.config.DedupWindow
}

func (w *Watcher) updateDedupCache(entry LogEntry) {
	w.dedupCache[entry.Fingerprint()] = time.Now()
}

// CreateEvent builds a monitoring.error_detected event from entry, using
// snake_case data keys for compatibility with the trigger filter and
// dispatcher handlers.
func (w *Watcher) CreateEvent(entry LogEntry) event.Event {
	severity := entry.Severity()

	var priority event.Priority
	switch severity {
	case event.SeverityCritical:
		priority = event.PriorityP0
	case event.SeverityWarning:
		priority = event.PriorityP1
	default:
		priority = event.PriorityP2
	}

	logLine, _ := json.Marshal(entry)

	data := map[string]interface{}{
		"error_code": nilableString(entry.ErrorCode),
		"severity":   severity.String(),
		"message":    entry.Message,
		"target":     entry.Target,
		"request_id": nilableString(entry.RequestID),
		"log_line":   string(logLine),
		"timestamp":  entry.Timestamp.Format(time.RFC3339),
	}

	metadata := event.NewMetadata()
	metadata.Fingerprint = entry.Fingerprint()

	return event.New("monitoring.error_detected", "log-watcher", priority, data).WithMetadata(metadata)
}

func nilableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// Watch reads any new lines appended to today's log file since the last
// call, returning one event per new, non-duplicate ERROR entry. It
// returns an empty slice (not an error) if today's log file doesn't exist
// yet.
func (w *Watcher) Watch() ([]event.Event, error) {
	today := time.Now().UTC()
	logFile := w.logFilePath(today)

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return nil, nil
	}

	w.loadDedupCache(today)

	lastLine, err := w.getLastLineNumber(today)
	if err != nil {
		return nil, err
	}

	currentLineCount, err := countFileLines(logFile)
	if err != nil {
		return nil, err
	}
	if currentLineCount < lastLine {
		w.log.Info("log file appears to have been rotated/truncated, resetting line counter",
			logging.WatcherFields("watch").Custom("previous_line", lastLine).Custom("current_lines", currentLineCount).KeysAndValues()...)
		lastLine = 0
		if err := w.saveLastLineNumber(today, 0); err != nil {
			return nil, err
		}
	}

	entries, err := w.readNewEntries(logFile, lastLine)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var events []event.Event
	newLineCount := lastLine

	for _, numbered := range entries {
		newLineCount = numbered.line

		if !numbered.entry.IsError() {
			continue
		}
		if !w.ShouldAlert(numbered.entry) {
			w.log.V(1).Info("skipping duplicate error within dedup window", "fingerprint", numbered.entry.Fingerprint())
			continue
		}

		events = append(events, w.CreateEvent(numbered.entry))
		w.updateDedupCache(numbered.entry)
	}

	if newLineCount > lastLine {
		if err := w.saveLastLineNumber(today, newLineCount); err != nil {
			return nil, err
		}
	}
	if err := w.saveDedupCache(today); err != nil {
		return nil, err
	}

	if len(events) > 0 {
		w.log.Info("generated events from log entries", logging.WatcherFields("watch").Count(len(events)).KeysAndValues()...)
	}

	return events, nil
}

func (w *Watcher) getLastLineNumber(date time.Time) (int, error) {
	path := w.stateFilePath(date)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read state file").WithDetails(path)
	}
	line, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to parse line number").WithDetails(path)
	}
	return line, nil
}

func (w *Watcher) saveLastLineNumber(date time.Time, lineNumber int) error {
	path := w.stateFilePath(date)
	if err := os.WriteFile(path, []byte(strconv.Itoa(lineNumber)), filePerm); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to write state file").WithDetails(path)
	}
	return nil
}

func countFileLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to open log file").WithDetails(path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count, nil
}

func (w *Watcher) loadDedupCache(date time.Time) {
	path := w.dedupFilePath(date)
	content, err := os.ReadFile(path)
	if err != nil {
		w.dedupCache = make(map[string]time.Time)
		return
	}

	cache := make(map[string]time.Time)
	now := time.Now()

	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry dedupEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if now.Sub(entry.FirstSeen) < w.config.DedupWindow {
			cache[entry.Fingerprint] = entry.FirstSeen
		}
	}

	w.dedupCache = cache
}

func (w *Watcher) saveDedupCache(date time.Time) error {
	path := w.dedupFilePath(date)
	now := time.Now()

	var builder strings.Builder
	for fingerprint, firstSeen := range w.dedupCache {
		if now.Sub(firstSeen) >= w.config.DedupWindow {
			continue
		}
		entry := dedupEntry{Fingerprint: fingerprint, FirstSeen: firstSeen, Count: 1}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to serialize dedup entry")
		}
		builder.Write(encoded)
		builder.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(builder.String()), filePerm); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to write dedup file").WithDetails(path)
	}
	return nil
}

type numberedEntry struct {
	line  int
	entry LogEntry
}

func (w *Watcher) readNewEntries(path string, afterLine int) ([]numberedEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to open log file").WithDetails(path)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []numberedEntry
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= afterLine {
			continue
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, ok := ParseLogEntry(line)
		if !ok {
			w.log.V(1).Info("failed to parse log line, skipping", "line", lineNum)
			continue
		}
		entries = append(entries, numberedEntry{line: lineNum, entry: entry})
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read log file").WithDetails(path)
	}

	return entries, nil
}

// CleanupOldState removes state/dedup files for dates older than
// daysToKeep.
func (w *Watcher) CleanupOldState(daysToKeep int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	entries, err := os.ReadDir(w.config.StateDir)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to read state directory")
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		dateStr, ok := strings.CutPrefix(name, "log-watcher-state-")
		if !ok {
			dateStr, ok = strings.CutPrefix(name, "log-watcher-dedup-")
		}
		if !ok {
			continue
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			if err := os.Remove(filepath.Join(w.config.StateDir, name)); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		w.log.Info("cleaned up old state files", logging.WatcherFields("cleanup").Count(removed).KeysAndValues()...)
	}
	return nil
}
