// Package memory turns idle conversations into durable notes. After a
// session goes quiet, a debounced agent turn re-reads the transcript and
// writes observations to the memory files via the file tools.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/featherlabs/featherbot/internal/agent"
)

const defaultIdle = 5 * time.Minute

const extractionPromptFmt = `Review the recent conversation and extract anything worth remembering:
facts about the user, preferences, decisions, commitments, and open tasks.
Append dated observations to %s with write_file or edit_file,
and update the long-term memory file when a durable fact changes.
If nothing is worth keeping, reply with "nothing to record" and write no files.`

// Config configures an Extractor.
type Config struct {
	Loop    *agent.Loop
	Idle    time.Duration // quiet period before extraction, default 5 m
	Enabled bool
	Logger  *slog.Logger
}

// Extractor debounces one extraction fuse per session key. Re-scheduling
// a key re-arms its timer; a firing that overlaps an in-flight
// extraction for the same key is dropped.
type Extractor struct {
	loop    *agent.Loop
	idle    time.Duration
	enabled bool
	log     *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]bool
	disposed bool

	wg sync.WaitGroup
}

func NewExtractor(cfg Config) *Extractor {
	if cfg.Idle <= 0 {
		cfg.Idle = defaultIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Extractor{
		loop:     cfg.Loop,
		idle:     cfg.Idle,
		enabled:  cfg.Enabled,
		log:      cfg.Logger,
		timers:   make(map[string]*time.Timer),
		inFlight: make(map[string]bool),
	}
}

// ScheduleExtraction (re-)arms the idle fuse for a session. A no-op when
// the extractor is disabled or disposed.
func (e *Extractor) ScheduleExtraction(sessionKey string) {
	if !e.enabled {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return
	}
	if t, ok := e.timers[sessionKey]; ok {
		t.Stop()
	}
	e.timers[sessionKey] = time.AfterFunc(e.idle, func() { e.fire(sessionKey) })
}

func (e *Extractor) fire(sessionKey string) {
	e.mu.Lock()
	delete(e.timers, sessionKey)
	if e.disposed || e.inFlight[sessionKey] {
		skip := e.inFlight[sessionKey]
		e.mu.Unlock()
		if skip {
			e.log.Debug("memory: extraction already in flight, skipping", "session", sessionKey)
		}
		return
	}
	e.inFlight[sessionKey] = true
	e.wg.Add(1)
	e.mu.Unlock()

	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, sessionKey)
		e.mu.Unlock()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("memory: extraction panicked", "session", sessionKey, "panic", rec)
		}
	}()

	e.log.Info("memory: extracting", "session", sessionKey)
	prompt := fmt.Sprintf(extractionPromptFmt, DailyNotePath(time.Now()))
	result := e.loop.ProcessDirect(context.Background(), prompt, agent.DirectOptions{
		SessionKey:  sessionKey,
		SkipHistory: true,
	})
	if result.FinishReason == "error" {
		e.log.Warn("memory: extraction failed", "session", sessionKey, "reply", result.Text)
		return
	}
	e.log.Debug("memory: extraction done",
		"session", sessionKey, "steps", result.StepCount, "tool_calls", len(result.ToolCalls))
}

// Dispose cancels all pending fuses. In-flight extractions finish.
func (e *Extractor) Dispose() {
	e.mu.Lock()
	e.disposed = true
	for key, t := range e.timers {
		t.Stop()
		delete(e.timers, key)
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// Pending reports how many session fuses are armed.
func (e *Extractor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// DailyNotePath renders the date-named note file for a day, relative to
// the memory directory.
func DailyNotePath(day time.Time) string {
	return fmt.Sprintf("memory/%s.md", day.Format("2006-01-02"))
}
