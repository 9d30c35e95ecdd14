package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
)

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{5: "5s", 65: "1m 5s", 3665: "1h 1m 5s"}
	for secs, want := range cases {
		got := formatDuration(time.Duration(secs) * time.Second)
		if got != want {
			t.Errorf("formatDuration(%ds) = %q, want %q", secs, got, want)
		}
	}
}

func TestCommandInterpreter_PsReportsNoActiveProcesses(t *testing.T) {
	s, adapter, _ := testScheduler(t, "x")

	s.HandleInbound(context.Background(), chatplatform.InboundMessage{ChannelID: "C1", Text: "!ps", Ts: "1"})

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.posted) != 1 || !strings.Contains(adapter.posted[0], "0/8") {
		t.Fatalf("posted = %v", adapter.posted)
	}
}

func TestCommandInterpreter_KillWithNoActiveProcessWarns(t *testing.T) {
	s, adapter, _ := testScheduler(t, "x")

	s.HandleInbound(context.Background(), chatplatform.InboundMessage{ChannelID: "C1", Text: "!kill", Ts: "1"})

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.posted) != 1 || !strings.Contains(adapter.posted[0], "warning") {
		t.Fatalf("posted = %v", adapter.posted)
	}
}

func TestCommandInterpreter_KillUnknownChannelRefWarns(t *testing.T) {
	s, adapter, _ := testScheduler(t, "x")

	s.HandleInbound(context.Background(), chatplatform.InboundMessage{ChannelID: "C1", Text: "!kill #nope", Ts: "1"})

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.posted) != 1 || !strings.Contains(adapter.posted[0], "no channel found") {
		t.Fatalf("posted = %v", adapter.posted)
	}
}

func TestCommandInterpreter_KillAllWithNoneActiveWarns(t *testing.T) {
	s, adapter, _ := testScheduler(t, "x")

	s.HandleInbound(context.Background(), chatplatform.InboundMessage{ChannelID: "C1", Text: "!killall", Ts: "1"})

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.posted) != 1 || !strings.Contains(adapter.posted[0], "warning") {
		t.Fatalf("posted = %v", adapter.posted)
	}
}

func TestCommandInterpreter_DoesNotConsumeOrdinaryMessages(t *testing.T) {
	s, adapter, q := testScheduler(t, "ok")

	s.HandleInbound(context.Background(), chatplatform.InboundMessage{ChannelID: "C1", Text: "not a command", Ts: "1"})

	waitFor(t, func() bool { return len(q.GetPendingForChannel("C1")) == 0 })
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.posted) != 2 || adapter.posted[len(adapter.posted)-1] != "ok" {
		t.Fatalf("posted = %v, want an ack followed by the final response", adapter.posted)
	}
}
