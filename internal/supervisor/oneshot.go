package supervisor

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/telegate-bridge/telegate/internal/config"
	"github.com/telegate-bridge/telegate/internal/session"
	"github.com/telegate-bridge/telegate/internal/streamevent"
)

// sessionArtifactRemovalTimeout bounds how long a session-collision retry
// waits for the cleared artifact paths to actually disappear from disk
// before giving up and retrying anyway.
const sessionArtifactRemovalTimeout = 2 * time.Second

// OneshotResult is the outcome of one oneshot Agent run.
type OneshotResult struct {
	Text      string
	SessionID string
	Cost      *float64
	Tokens    *int
}

// RunOneshot spawns a fresh Agent for one message, waits for it to exit,
// and returns its Result event payload (falling back to accumulated text
// if no Result event arrived). onDelta, if non-nil, is invoked for every
// TextDelta in stdout order, letting stream-update/stream-native
// responders render progress even though the process itself is oneshot.
func (s *Supervisor) RunOneshot(ctx context.Context, channelID string, cfg config.ResolvedChannelConfig, promptText string, imagePaths []string, onDelta func(string)) (OneshotResult, error) {
	sessionID := session.DeriveID(channelID, cfg.Folder)
	return s.runOneshotAttempt(ctx, channelID, cfg, sessionID, promptText, imagePaths, onDelta, true)
}

func (s *Supervisor) runOneshotAttempt(ctx context.Context, channelID string, cfg config.ResolvedChannelConfig, sessionID, promptText string, imagePaths []string, onDelta func(string), allowRetry bool) (OneshotResult, error) {
	home := s.homeDir()
	resume := session.HasExistingLog(home, sessionID, cfg.Folder)

	cwd, _ := os.Getwd()
	mcpPath := mcpConfigPathIn(cwd)

	args := buildArgs(cfg, sessionID, "stream-json", false, resume, mcpPath, promptText, imagePaths)
	spec := Spec{
		Binary: "claude",
		Args:   args,
		Dir:    cfg.Folder,
		Env:    spawnEnv(os.Environ(), s.goos()),
		Stdin:  false,
	}

	proc, err := s.spawner.Spawn(ctx, spec)
	if err != nil {
		return OneshotResult{}, fmt.Errorf("Failed to spawn claude: %w", err)
	}

	e := &entry{
		channelID: channelID,
		sessionID: sessionID,
		startedAt: time.Now(),
		prompt:    promptText,
		proc:      proc,
		isActive:  true,
	}
	s.mu.Lock()
	s.oneshot[channelID] = e
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.oneshot, channelID)
		s.mu.Unlock()
	}()

	e.idleTimer = time.AfterFunc(time.Duration(cfg.TimeoutMs)*time.Millisecond, func() { proc.Terminate() })
	e.absoluteTimer = time.AfterFunc(AbsoluteTimeout, func() { proc.Terminate() })
	defer stopTimer(e.idleTimer)
	defer stopTimer(e.absoluteTimer)

	var result OneshotResult
	var gotResult bool
	var fullText strings.Builder

	relay := newIORelay(e.idleTimer, cfg.TimeoutMs, func(line string) {
		evt, ok := streamevent.Parse(line)
		if !ok {
			return
		}
		switch evt.Kind {
		case streamevent.KindTextDelta:
			fullText.WriteString(evt.Text)
			if onDelta != nil {
				onDelta(evt.Text)
			}
		case streamevent.KindResult:
			gotResult = true
			result = OneshotResult{
				Text:      evt.ResultText,
				SessionID: sessionID,
				Cost:      evt.Cost,
				Tokens:    evt.Tokens,
			}
			if evt.SessionID != nil {
				result.SessionID = *evt.SessionID
			}
		}
	})
	relay.Start(proc.StdoutReader(), proc.StderrReader())

	<-proc.Done()
	relay.Wait()

	code, _ := proc.Exited()
	if code != 0 {
		stderrText := strings.TrimSpace(relay.Stderr())
		if allowRetry && strings.Contains(stderrText, "already in use") {
			session.ClearArtifacts(home, sessionID, cfg.Folder)
			// Best-effort: give the Agent's own file handles a moment to
			// release before the retry reuses the same paths. A timeout
			// here is not fatal — the retry proceeds regardless.
			paths := session.ArtifactPaths(home, sessionID, cfg.Folder)
			session.AwaitRemoval(paths, sessionArtifactRemovalTimeout)
			return s.runOneshotAttempt(ctx, channelID, cfg, sessionID, promptText, imagePaths, onDelta, false)
		}
		return OneshotResult{}, fmt.Errorf("Claude exited with code %d: %s", code, stderrText)
	}

	if !gotResult {
		result = OneshotResult{Text: fullText.String(), SessionID: sessionID}
	}
	return result, nil
}
