package gateway

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
)

// CommandInterpreter implements the magic-prefix operator commands (C8):
// !ps, !kill, !killall, !nudge.
type CommandInterpreter struct {
	scheduler *Scheduler
}

var channelMentionRe = regexp.MustCompile(`^<#([A-Za-z0-9]+)(?:\|[^>]*)?>$`)

// Handle inspects msg.Text for a recognized "!command" and, if found,
// executes it and replies in-channel. It returns false if msg.Text is not
// a recognized command, leaving the caller to fall through to normal
// message handling.
func (ci *CommandInterpreter) Handle(ctx context.Context, msg chatplatform.InboundMessage) bool {
	fields := strings.Fields(strings.TrimSpace(msg.Text))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "!ps":
		ci.reply(ctx, msg, ci.renderPs())
	case "!kill":
		ci.reply(ctx, msg, ci.kill(ctx, msg, fields, false))
	case "!killall":
		ci.reply(ctx, msg, ci.killAll())
	case "!nudge":
		ci.reply(ctx, msg, ci.kill(ctx, msg, fields, true))
	default:
		return false
	}
	return true
}

func (ci *CommandInterpreter) reply(ctx context.Context, msg chatplatform.InboundMessage, text string) {
	ci.scheduler.adapter.PostMessage(ctx, msg.ChannelID, msg.ThreadTs, text)
}

func (ci *CommandInterpreter) renderPs() string {
	procs := ci.scheduler.supervisor.GetActiveProcesses()

	var b strings.Builder
	fmt.Fprintf(&b, "*Active processes:* %d/%d\n", len(procs), MaxConcurrentProcesses)

	sort.Slice(procs, func(i, j int) bool { return procs[i].StartedAt.Before(procs[j].StartedAt) })
	for _, p := range procs {
		name := ci.scheduler.adapter.ChannelName(context.Background(), p.ChannelID)
		status := formatDuration(time.Since(p.StartedAt))
		indicator := ":hourglass_flowing_sand:"
		if !p.IsActive {
			indicator = "(idle)"
		}
		metric := fmt.Sprintf("%d tok", p.TotalTokens)
		if p.TotalTokens == 0 {
			metric = fmt.Sprintf("$%.4f", p.TotalCostUSD)
		}
		fmt.Fprintf(&b, "- %s %s — %s, %d turns, %s %s", indicator, name, status, p.MessageCount, metric, p.PromptPrefix)
		if ci.scheduler.store != nil {
			if totals, err := ci.scheduler.store.Totals(p.ChannelID); err == nil && totals.TurnCount > 0 {
				fmt.Fprintf(&b, " (lifetime: $%.4f, %d turns)", totals.TotalCost, totals.TurnCount)
			}
		}
		b.WriteString("\n")
	}

	pending := ci.scheduler.queue.GetPending()
	if len(pending) > 0 {
		counts := map[string]int{}
		for _, m := range pending {
			counts[m.ChannelID]++
		}
		b.WriteString(fmt.Sprintf("\n*Queued:* %d\n", len(pending)))
		var channels []string
		for c := range counts {
			channels = append(channels, c)
		}
		sort.Strings(channels)
		for _, c := range channels {
			name := ci.scheduler.adapter.ChannelName(context.Background(), c)
			fmt.Fprintf(&b, "- %s: %d\n", name, counts[c])
		}
	}
	return b.String()
}

// formatDuration renders an elapsed time as "1h 2m 3s", "2m 3s", or "3s",
// matching the "(was running 1m 42s)" style of §4.8's !kill/!nudge reply.
func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	h, rem := total/3600, total%3600
	m, s := rem/60, rem%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// resolveTarget determines which channel a !kill/!nudge targets: an
// explicit <ref> argument, or the invoking channel when none is given.
func (ci *CommandInterpreter) resolveTarget(ctx context.Context, msg chatplatform.InboundMessage, fields []string) (string, bool) {
	if len(fields) < 2 {
		return msg.ChannelID, true
	}
	ref := fields[1]
	if m := channelMentionRe.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	name := strings.TrimPrefix(ref, "#")
	return ci.scheduler.adapter.ResolveChannelRef(ctx, name)
}

func (ci *CommandInterpreter) kill(ctx context.Context, msg chatplatform.InboundMessage, fields []string, nudge bool) string {
	channelID, ok := ci.resolveTarget(ctx, msg, fields)
	if !ok {
		return fmt.Sprintf(":warning: no channel found matching %q", fields[1])
	}

	var startedAt time.Time
	var found bool
	for _, p := range ci.scheduler.supervisor.GetActiveProcesses() {
		if p.ChannelID == channelID {
			startedAt, found = p.StartedAt, true
			break
		}
	}

	var acted bool
	if nudge {
		acted = ci.scheduler.supervisor.NudgeProcess(channelID)
	} else {
		acted = ci.scheduler.supervisor.KillProcess(channelID)
	}
	name := ci.scheduler.adapter.ChannelName(ctx, channelID)
	if !acted {
		return fmt.Sprintf(":warning: no active process for %s", name)
	}

	if nudge {
		return fmt.Sprintf(":triangular_flag_on_post: Nudged process in %s", name)
	}
	if found {
		return fmt.Sprintf(":stop_sign: Killed process in %s (was running %s)", name, formatDuration(time.Since(startedAt)))
	}
	return fmt.Sprintf(":stop_sign: Killed process in %s", name)
}

func (ci *CommandInterpreter) killAll() string {
	killed := ci.scheduler.supervisor.KillAllProcesses()
	if len(killed) == 0 {
		return ":warning: no active processes"
	}
	names := make([]string, len(killed))
	for i, id := range killed {
		names[i] = ci.scheduler.adapter.ChannelName(context.Background(), id)
	}
	return fmt.Sprintf(":white_check_mark: Killed %d process(es): %s", len(killed), strings.Join(names, ", "))
}
