package telemetry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInit_DiscardsWithoutLogDir(t *testing.T) {
	Init(Config{})
	defer Shutdown()

	log := ForComponent(CompGateway)
	log.Info("hello") // must not panic and must not create a file
}

func TestInit_WritesRotatingFileUnderLogDir(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	ForComponent(CompSupervisor).Info("turn finished", "channel", "C1")

	if _, err := os.Stat(filepath.Join(dir, "telegate.log")); err != nil {
		t.Fatalf("expected a log file to be created: %v", err)
	}
}

func TestForComponent_ResolvesHandlerLazily(t *testing.T) {
	// Constructed before Init runs, as a package-level var would be.
	early := ForComponent(CompQueue)

	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "debug"})
	defer Shutdown()

	early.Info("still live")

	if _, err := os.Stat(filepath.Join(dir, "telegate.log")); err != nil {
		t.Fatalf("expected the lazily-resolved logger to write through: %v", err)
	}
}
