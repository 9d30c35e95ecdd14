// Package session derives deterministic Agent session identity and manages
// the on-disk artifacts (log, working directory, todo file) the Agent
// leaves behind per (session, folder).
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Namespace is the fixed literal UUID used to derive session IDs. It is not
// configurable and must never change without migrating existing users'
// on-disk session logs.
var Namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeriveID computes the deterministic session ID for (channelID, folder).
// The same pair always yields the same ID, across runs and processes, so
// that the Agent's own on-disk session replay and context persist across
// gateway restarts.
func DeriveID(channelID, folder string) string {
	name := channelID + ":" + folder
	return uuid.NewSHA1(Namespace, []byte(name)).String()
}

// Artifacts holds the three filesystem paths the Agent maintains for one
// session.
type Artifacts struct {
	LogFile  string
	WorkDir  string
	TodoFile string
}

// encodeFolder implements the folder-encoding rule: every path separator is
// replaced with "-" (a leading separator becomes a leading "-").
func encodeFolder(folder string) string {
	return strings.ReplaceAll(folder, string(filepath.Separator), "-")
}

// ArtifactPaths resolves the three on-disk paths for a session, rooted at
// home (typically the HOME environment variable).
func ArtifactPaths(home, sessionID, folder string) Artifacts {
	encoded := encodeFolder(folder)
	projectDir := filepath.Join(home, ".claude", "projects", encoded)
	return Artifacts{
		LogFile:  filepath.Join(projectDir, sessionID+".jsonl"),
		WorkDir:  filepath.Join(projectDir, sessionID),
		TodoFile: filepath.Join(home, ".claude", "todos", sessionID+"-agent-"+sessionID+".json"),
	}
}

// HasExistingLog reports whether a session log file already exists for
// this session/folder, which determines whether the supervisor passes
// --resume or --session-id to the Agent.
func HasExistingLog(home, sessionID, folder string) bool {
	paths := ArtifactPaths(home, sessionID, folder)
	_, err := os.Stat(paths.LogFile)
	return err == nil
}

// ClearArtifacts removes all three artifact paths for a session, ignoring
// individual not-found/locked errors so the caller can always retry the
// run after a "session already in use" failure.
func ClearArtifacts(home, sessionID, folder string) error {
	paths := ArtifactPaths(home, sessionID, folder)

	var firstErr error
	for _, p := range []string{paths.LogFile, paths.WorkDir, paths.TodoFile} {
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("session: clear artifact %s: %w", p, err)
		}
	}
	// Artifact clearing is best-effort by contract (§4.4): report the first
	// unexpected error for observability, but callers proceed regardless.
	return firstErr
}
