package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/telegate-bridge/telegate/internal/config"
	"github.com/telegate-bridge/telegate/internal/session"
	"github.com/telegate-bridge/telegate/internal/streamevent"
)

// stdinTurn is the wire shape written to a persistent Agent's stdin for
// each turn (§4.5: `{"type":"user","message":{"role":"user","content":
// <text>}}`).
type stdinTurn struct {
	Type    string        `json:"type"`
	Message stdinTurnBody `json:"message"`
}

type stdinTurnBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunPersistentTurn sends promptText to the channel's persistent Agent,
// spawning one if none is alive, and blocks until that turn's Result
// event arrives (or the process dies, or ctx is cancelled).
func (s *Supervisor) RunPersistentTurn(ctx context.Context, channelID string, cfg config.ResolvedChannelConfig, promptText string, onDelta func(string)) (OneshotResult, error) {
	e, err := s.ensurePersistent(ctx, channelID, cfg)
	if err != nil {
		return OneshotResult{}, fmt.Errorf("Failed to spawn claude: %w", err)
	}

	t := &turn{onDelta: onDelta, done: make(chan turnResult, 1)}

	e.mu.Lock()
	e.currentTurn = t
	e.isActive = true
	idleTimer := e.idleTimer
	timeoutMs := cfg.TimeoutMs
	proc := e.proc
	e.mu.Unlock()

	if idleTimer != nil {
		idleTimer.Reset(time.Duration(timeoutMs) * time.Millisecond)
	}

	line, err := json.Marshal(stdinTurn{Type: "user", Message: stdinTurnBody{Role: "user", Content: promptText}})
	if err != nil {
		return OneshotResult{}, fmt.Errorf("supervisor: marshal turn: %w", err)
	}
	if _, err := proc.StdinWriter().Write(append(line, '\n')); err != nil {
		return OneshotResult{}, fmt.Errorf("Failed to write to claude stdin: %w", err)
	}

	select {
	case res := <-t.done:
		if res.err != nil {
			return OneshotResult{}, res.err
		}
		return OneshotResult{Text: res.text, SessionID: e.sessionID}, nil
	case <-ctx.Done():
		return OneshotResult{}, ctx.Err()
	}
}

// ensurePersistent returns the channel's live persistent entry, spawning a
// new Agent process if none exists or the previous one has exited.
func (s *Supervisor) ensurePersistent(ctx context.Context, channelID string, cfg config.ResolvedChannelConfig) (*entry, error) {
	s.mu.Lock()
	e, ok := s.persistent[channelID]
	s.mu.Unlock()
	if ok && !isDead(e.proc) {
		return e, nil
	}

	home := s.homeDir()
	sessionID := session.DeriveID(channelID, cfg.Folder)
	resume := session.HasExistingLog(home, sessionID, cfg.Folder)

	cwd, _ := os.Getwd()
	mcpPath := mcpConfigPathIn(cwd)

	args := buildArgs(cfg, sessionID, "stream-json", true, resume, mcpPath, "", nil)
	// Persistent turns carry their content over stdin, not as a positional
	// prompt argument; drop the empty trailing prompt buildArgs appended.
	args = args[:len(args)-1]

	spec := Spec{
		Binary: "claude",
		Args:   args,
		Dir:    cfg.Folder,
		Env:    spawnEnv(os.Environ(), s.goos()),
		Stdin:  true,
	}
	proc, err := s.spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}

	newEntry := &entry{
		channelID:  channelID,
		sessionID:  sessionID,
		startedAt:  time.Now(),
		persistent: true,
		proc:       proc,
	}
	newEntry.idleTimer = time.AfterFunc(time.Duration(cfg.TimeoutMs)*time.Millisecond, func() { proc.Terminate() })
	newEntry.absoluteTimer = time.AfterFunc(AbsoluteTimeout, func() { proc.Terminate() })

	relay := newIORelay(newEntry.idleTimer, cfg.TimeoutMs, func(line string) { s.dispatchPersistentLine(newEntry, line) })
	relay.Start(proc.StdoutReader(), proc.StderrReader())

	go func() {
		<-proc.Done()
		stopTimer(newEntry.idleTimer)
		stopTimer(newEntry.absoluteTimer)
		relay.Wait()
		code, _ := proc.Exited()
		newEntry.mu.Lock()
		newEntry.isActive = false
		if newEntry.currentTurn != nil {
			stderrText := strings.TrimSpace(relay.Stderr())
			newEntry.currentTurn.done <- turnResult{err: fmt.Errorf("Claude exited with code %d: %s", code, stderrText)}
			newEntry.currentTurn = nil
		}
		newEntry.mu.Unlock()
		s.mu.Lock()
		if s.persistent[channelID] == newEntry {
			delete(s.persistent, channelID)
		}
		s.mu.Unlock()
	}()

	s.mu.Lock()
	s.persistent[channelID] = newEntry
	s.mu.Unlock()
	return newEntry, nil
}

func (s *Supervisor) dispatchPersistentLine(e *entry, line string) {
	evt, ok := streamevent.Parse(line)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch evt.Kind {
	case streamevent.KindTextDelta:
		if e.currentTurn != nil {
			e.currentTurn.fullText += evt.Text
			if e.currentTurn.onDelta != nil {
				e.currentTurn.onDelta(evt.Text)
			}
		}
	case streamevent.KindResult:
		// Counters only advance on Result (OQ-3): a turn that never
		// produces one leaves message/cost/token totals untouched.
		e.messageCount++
		if evt.Cost != nil {
			e.totalCostUSD += *evt.Cost
		}
		if evt.Tokens != nil {
			e.totalTokens += *evt.Tokens
		}
		if e.currentTurn != nil {
			text := evt.ResultText
			if text == "" {
				text = e.currentTurn.fullText
			}
			e.currentTurn.done <- turnResult{text: text}
			e.currentTurn = nil
			e.isActive = false
		}
	case streamevent.KindUserReceipt:
		// Informational echo of the turn we wrote to stdin; no state change.
	}
}

func isDead(p Process) bool {
	if p == nil {
		return true
	}
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
