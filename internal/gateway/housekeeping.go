package gateway

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// staleImageAge is how long a downloaded image attachment can sit in the
// scheduler's temp dir before the housekeeping sweep reclaims it. Normal
// turns delete their own images on completion; this only catches ones
// orphaned by a crash between download and cleanup.
const staleImageAge = time.Hour

// Housekeeping runs periodic maintenance (stale temp file reclamation)
// on a cron schedule, replacing a hand-rolled duration-until-next-fire
// calculation with robfig/cron's own scheduler.
type Housekeeping struct {
	scheduler *Scheduler
	cron      *cron.Cron
}

// NewHousekeeping wires a cron job running the reap sweep every 15
// minutes. Call Start to begin.
func NewHousekeeping(s *Scheduler) *Housekeeping {
	h := &Housekeeping{scheduler: s, cron: cron.New()}
	h.cron.AddFunc("@every 15m", h.reap)
	return h
}

// Start begins the cron scheduler in the background.
func (h *Housekeeping) Start() { h.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (h *Housekeeping) Stop() { <-h.cron.Stop().Done() }

func (h *Housekeeping) reap() {
	entries, err := os.ReadDir(h.scheduler.imageDir)
	if err != nil {
		h.scheduler.log.Warn("gateway: housekeeping readdir", "err", err)
		return
	}
	cutoff := time.Now().Add(-staleImageAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(h.scheduler.imageDir, e.Name())
		if err := os.Remove(path); err != nil {
			h.scheduler.log.Warn("gateway: housekeeping remove", "path", path, "err", err)
		}
	}
}
