package supervisor

import (
	"os"
	"runtime"
	"sync"
	"time"
)

// AbsoluteTimeout is the safety-net lifetime of any Agent process,
// regardless of idle activity. Cannot be disabled.
const AbsoluteTimeout = 12 * time.Hour

// ActiveProcess is a runtime snapshot of one live Agent invocation, shared
// by both registries.
type ActiveProcess struct {
	ChannelID    string
	SessionID    string
	StartedAt    time.Time
	PromptPrefix string // most recent prompt, truncated to 80 chars
	MessageCount int
	TotalCostUSD float64
	TotalTokens  int
	IsActive     bool // always true for oneshot; true iff a turn is in flight for persistent
	Persistent   bool
}

const promptPrefixLen = 80

func truncatePrompt(s string) string {
	if len(s) <= promptPrefixLen {
		return s
	}
	return s[:promptPrefixLen]
}

// entry is the internal bookkeeping record behind one ActiveProcess, for
// either registry.
type entry struct {
	mu sync.Mutex

	channelID  string
	sessionID  string
	startedAt  time.Time
	prompt     string
	persistent bool

	proc Process

	messageCount int
	totalCostUSD float64
	totalTokens  int
	isActive     bool

	idleTimer     *time.Timer
	absoluteTimer *time.Timer

	// currentTurn is non-nil while a persistent entry has a turn in flight.
	currentTurn *turn
}

func (e *entry) snapshot() ActiveProcess {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ActiveProcess{
		ChannelID:    e.channelID,
		SessionID:    e.sessionID,
		StartedAt:    e.startedAt,
		PromptPrefix: truncatePrompt(e.prompt),
		MessageCount: e.messageCount,
		TotalCostUSD: e.totalCostUSD,
		TotalTokens:  e.totalTokens,
		IsActive:     e.isActive,
		Persistent:   e.persistent,
	}
}

// Supervisor owns the oneshot and persistent registries and exposes the
// control API consumed by the scheduler (C7) and command interpreter (C8).
type Supervisor struct {
	spawner Spawner
	home    string // HOME for session artifact path resolution; "" uses os.Getenv

	mu         sync.Mutex
	oneshot    map[string]*entry // channelID -> entry
	persistent map[string]*entry // channelID -> entry
}

// New creates a Supervisor. home overrides the HOME directory used for
// session artifact resolution (primarily for tests); pass "" to use the
// process's real HOME.
func New(spawner Spawner, home string) *Supervisor {
	if home == "" {
		home = os.Getenv("HOME")
	}
	return &Supervisor{
		spawner:    spawner,
		home:       home,
		oneshot:    make(map[string]*entry),
		persistent: make(map[string]*entry),
	}
}

func (s *Supervisor) homeDir() string { return s.home }

func (s *Supervisor) goos() string { return runtime.GOOS }

// GetActiveProcesses returns a snapshot of every live Agent process across
// both registries.
func (s *Supervisor) GetActiveProcesses() []ActiveProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ActiveProcess, 0, len(s.oneshot)+len(s.persistent))
	for _, e := range s.oneshot {
		out = append(out, e.snapshot())
	}
	for _, e := range s.persistent {
		out = append(out, e.snapshot())
	}
	return out
}

// KillProcess sends SIGTERM to the matching channel's process, clearing
// its timers. Returns whether an entry was found.
func (s *Supervisor) KillProcess(channelID string) bool {
	e := s.findEntry(channelID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	stopTimer(e.idleTimer)
	stopTimer(e.absoluteTimer)
	proc := e.proc
	e.mu.Unlock()
	if proc != nil {
		proc.Terminate()
	}
	return true
}

// NudgeProcess sends SIGINT to the matching channel's process. Timers and
// registry state are untouched.
func (s *Supervisor) NudgeProcess(channelID string) bool {
	e := s.findEntry(channelID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return false
	}
	proc.Interrupt()
	return true
}

// KillAllProcesses sends SIGTERM to every live process and returns the
// list of affected channel IDs.
func (s *Supervisor) KillAllProcesses() []string {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.oneshot)+len(s.persistent))
	channelIDs := make([]string, 0, len(s.oneshot)+len(s.persistent))
	for id, e := range s.oneshot {
		entries = append(entries, e)
		channelIDs = append(channelIDs, id)
	}
	for id, e := range s.persistent {
		entries = append(entries, e)
		channelIDs = append(channelIDs, id)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		stopTimer(e.idleTimer)
		stopTimer(e.absoluteTimer)
		proc := e.proc
		e.mu.Unlock()
		if proc != nil {
			proc.Terminate()
		}
	}
	return channelIDs
}

func (s *Supervisor) findEntry(channelID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.oneshot[channelID]; ok {
		return e
	}
	if e, ok := s.persistent[channelID]; ok {
		return e
	}
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// turn is the completion slot for one in-flight persistent turn.
type turn struct {
	fullText string
	onDelta  func(text string)
	done     chan turnResult
}

type turnResult struct {
	text string
	err  error
}
