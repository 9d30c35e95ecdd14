package supervisor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/telegate-bridge/telegate/internal/config"
)

// imageSuffixHeader is appended to a oneshot prompt when images are
// attached to the inbound message (§6).
const imageSuffixHeader = "\n\n[Attached image files — use your Read tool to view them]\n"

// buildArgs assembles the Agent command-line argument list per §6's
// ordered contract. prompt is the final positional argument.
//
// outputFormat is "json" for oneshot's plain mode or "stream-json"
// otherwise; persistent is true for the persistent process mode;
// resumeSessionLog is true when a session log already exists (--resume
// rather than --session-id); mcpConfigPath is non-empty when mcp.json was
// found in the supervisor's own working directory.
func buildArgs(cfg config.ResolvedChannelConfig, sessionID string, outputFormat string, persistent bool, resumeSessionLog bool, mcpConfigPath string, prompt string, imagePaths []string) []string {
	args := []string{"-p", "--output-format", outputFormat}

	if outputFormat == "stream-json" {
		args = append(args, "--verbose", "--include-partial-messages")
	}
	if persistent {
		args = append(args, "--input-format", "stream-json", "--replay-user-messages")
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if resumeSessionLog {
		args = append(args, "--resume", sessionID)
	} else {
		args = append(args, "--session-id", sessionID)
	}
	if cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", cfg.SystemPrompt)
	}
	args = append(args, "--dangerously-skip-permissions")
	if mcpConfigPath != "" {
		args = append(args, "--mcp-config", mcpConfigPath)
	}

	finalPrompt := prompt
	if len(imagePaths) > 0 {
		finalPrompt += imageSuffixHeader + strings.Join(imagePaths, "\n")
	}
	return append(args, finalPrompt)
}

// mcpConfigPathIn returns the path to mcp.json in dir if it exists, else "".
func mcpConfigPathIn(dir string) string {
	path := filepath.Join(dir, "mcp.json")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// spawnEnv builds the child's environment per §4.5: inherit from parent,
// unset CLAUDECODE (its presence would make the Agent refuse the spawn as
// a nested invocation), and synthesize HOME if missing and USER is set.
func spawnEnv(osEnviron []string, goos string) []string {
	env := make([]string, 0, len(osEnviron)+1)
	hasHome := false
	user := ""
	for _, kv := range osEnviron {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		if strings.HasPrefix(kv, "HOME=") {
			hasHome = true
		}
		if strings.HasPrefix(kv, "USER=") {
			user = strings.TrimPrefix(kv, "USER=")
		}
		env = append(env, kv)
	}
	if !hasHome && user != "" {
		env = append(env, "HOME="+defaultHomePath(goos, user))
	}
	return env
}

func defaultHomePath(goos, user string) string {
	if goos == "darwin" {
		return "/Users/" + user
	}
	return "/home/" + user
}
