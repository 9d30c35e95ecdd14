package main

import (
	"os"
	"strings"
	"testing"
)

func TestServeCmd_HasExpectedFlags(t *testing.T) {
	cmd := newServeCmd()
	for _, name := range []string{"config", "state-dir", "log-level"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected serve to define a %q flag", name)
		}
	}
}

func TestCreateAdapter_UnsetPlatformErrors(t *testing.T) {
	os.Unsetenv("TELEGATE_PLATFORM")
	_, err := createAdapter()
	if err == nil {
		t.Fatal("expected an error when TELEGATE_PLATFORM is unset")
	}
	if !strings.Contains(err.Error(), "TELEGATE_PLATFORM") {
		t.Errorf("expected error to mention TELEGATE_PLATFORM, got: %v", err)
	}
}

func TestCreateAdapter_UnknownPlatformErrors(t *testing.T) {
	os.Setenv("TELEGATE_PLATFORM", "carrier-pigeon")
	defer os.Unsetenv("TELEGATE_PLATFORM")

	_, err := createAdapter()
	if err == nil {
		t.Fatal("expected an error for an unrecognized platform")
	}
}

func TestCreateAdapter_SlackSelectsSlackAdapter(t *testing.T) {
	os.Setenv("TELEGATE_PLATFORM", "slack")
	os.Setenv("SLACK_APP_TOKEN", "xapp-test")
	os.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	defer func() {
		os.Unsetenv("TELEGATE_PLATFORM")
		os.Unsetenv("SLACK_APP_TOKEN")
		os.Unsetenv("SLACK_BOT_TOKEN")
	}()

	adapter, err := createAdapter()
	if err != nil {
		t.Fatalf("unexpected error constructing slack adapter: %v", err)
	}
	if adapter == nil {
		t.Fatal("expected a non-nil adapter")
	}
}
