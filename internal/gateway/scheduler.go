// Package gateway implements the per-channel scheduler (C7) and command
// interpreter (C8): the glue between a chatplatform.Adapter, the durable
// queue (C1), the response pipeline (C6), and the process supervisor (C5).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
	"github.com/telegate-bridge/telegate/internal/config"
	"github.com/telegate-bridge/telegate/internal/queue"
	"github.com/telegate-bridge/telegate/internal/responder"
	"github.com/telegate-bridge/telegate/internal/store"
	"github.com/telegate-bridge/telegate/internal/supervisor"
)

// MaxConcurrentProcesses is the global cap on simultaneous Agent processes
// across all channels.
const MaxConcurrentProcesses = 8

const supportedImageMaxBytes = 5 * 1024 * 1024 // 5 MiB

var supportedImageMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Scheduler owns channelBusy/processingMessages bookkeeping, the durable
// queue, and the global concurrency slot; it dispatches each message to
// the response pipeline and process supervisor per the channel's resolved
// config.
type Scheduler struct {
	cfg        *config.Config
	queue      *queue.Queue
	supervisor *supervisor.Supervisor
	adapter    chatplatform.Adapter
	log        *slog.Logger
	imageDir   string
	sem        *semaphore.Weighted
	store      *store.Store // optional; nil disables historical metrics

	mu         sync.Mutex
	busy       map[string]bool
	processing map[string]bool // key: channelID + "\x00" + ts

	commands *CommandInterpreter
	acks     ackDeck
}

// New constructs a Scheduler. imageDir is a host temp directory used to
// stage downloaded image attachments.
func New(cfg *config.Config, q *queue.Queue, sup *supervisor.Supervisor, adapter chatplatform.Adapter, imageDir string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cfg:        cfg,
		queue:      q,
		supervisor: sup,
		adapter:    adapter,
		log:        log,
		imageDir:   imageDir,
		sem:        semaphore.NewWeighted(MaxConcurrentProcesses),
		busy:       make(map[string]bool),
		processing: make(map[string]bool),
	}
	s.commands = &CommandInterpreter{scheduler: s}
	return s
}

// WithStore attaches the historical metrics store, enabling !ps's
// cumulative cost/token display to survive a gateway restart.
func (s *Scheduler) WithStore(st *store.Store) *Scheduler {
	s.store = st
	return s
}

func processingKey(channelID, ts string) string { return channelID + "\x00" + ts }

func (s *Scheduler) isProcessing(channelID, ts string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing[processingKey(channelID, ts)]
}

func (s *Scheduler) setProcessing(channelID, ts string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := processingKey(channelID, ts)
	if v {
		s.processing[key] = true
	} else {
		delete(s.processing, key)
	}
}

// HandleInbound processes one inbound chat event per §4.7 steps 1-10.
func (s *Scheduler) HandleInbound(ctx context.Context, msg chatplatform.InboundMessage) error {
	if msg.IsBot {
		return nil
	}

	switch msg.Subtype {
	case "message_deleted":
		s.queue.Dequeue(msg.ChannelID, msg.DeletedTs)
		return nil
	case "message_changed":
		if !s.isProcessing(msg.ChannelID, msg.EditedTs) {
			s.queue.UpdateQueuedText(msg.ChannelID, msg.EditedTs, msg.Text)
		}
		return nil
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "!") {
		if s.commands.Handle(ctx, msg) {
			return nil
		}
	}

	if msg.Text == "" && !hasSupportedImage(msg.Images) {
		return nil
	}
	if _, ok := s.cfg.Resolve(msg.ChannelID); !ok {
		return nil
	}

	imagePaths, err := s.downloadImages(ctx, msg.Images)
	if err != nil {
		s.log.Warn("gateway: image download failed", "channel", msg.ChannelID, "err", err)
	}

	text := msg.Text
	if text == "" && len(imagePaths) > 0 {
		text = "What is in this image?"
	}

	qm := queue.QueuedMessage{
		ChannelID:  msg.ChannelID,
		UserID:     msg.UserID,
		Text:       text,
		Ts:         msg.Ts,
		ThreadTs:   msg.ThreadTs,
		QueuedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		ImagePaths: imagePaths,
	}
	if err := s.queue.Enqueue(qm); err != nil {
		return fmt.Errorf("gateway: enqueue: %w", err)
	}

	ref := chatplatform.MessageRef{ChannelID: msg.ChannelID, Ts: msg.Ts}
	s.adapter.AddReaction(ctx, ref, chatplatform.ReactionInboxTray)
	s.adapter.PostMessage(ctx, msg.ChannelID, msg.ThreadTs, s.acks.next())

	s.mu.Lock()
	alreadyBusy := s.busy[msg.ChannelID]
	if !alreadyBusy {
		s.busy[msg.ChannelID] = true
	}
	s.mu.Unlock()

	if !alreadyBusy {
		go s.drain(context.Background(), msg.ChannelID)
	}
	return nil
}

// hasSupportedImage reports whether any attachment is within the MIME and
// size limits §4.7 step 6 uses to define "supported" — the same test
// downloadImages applies per-attachment, used here so an empty-text
// message whose only attachment is oversized or unsupported is rejected
// at the ingress filter instead of being enqueued with no text and no
// usable image.
func hasSupportedImage(images []chatplatform.ImageAttachment) bool {
	for _, img := range images {
		if supportedImageMIME[img.MimeType] && img.SizeHint <= supportedImageMaxBytes {
			return true
		}
	}
	return false
}

func (s *Scheduler) downloadImages(ctx context.Context, images []chatplatform.ImageAttachment) ([]string, error) {
	var paths []string
	for i, img := range images {
		if !supportedImageMIME[img.MimeType] || img.SizeHint > supportedImageMaxBytes {
			continue
		}
		dest := filepath.Join(s.imageDir, fmt.Sprintf("%d-%d%s", time.Now().UnixNano(), i, extForMIME(img.MimeType)))
		if _, err := s.adapter.DownloadImage(ctx, img.URL, dest, supportedImageMaxBytes); err != nil {
			return paths, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

func extForMIME(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

// drain processes every pending message for one channel, in queued order,
// until none remain.
func (s *Scheduler) drain(ctx context.Context, channelID string) {
	for {
		pending := s.queue.GetPendingForChannel(channelID)
		if len(pending) == 0 {
			break
		}
		s.processOne(ctx, pending[0])
		s.queue.Dequeue(pending[0].ChannelID, pending[0].Ts)
	}

	s.mu.Lock()
	delete(s.busy, channelID)
	s.mu.Unlock()
}

func (s *Scheduler) processOne(ctx context.Context, m queue.QueuedMessage) {
	s.setProcessing(m.ChannelID, m.Ts, true)
	defer s.setProcessing(m.ChannelID, m.Ts, false)
	defer s.cleanupImages(m.ImagePaths)

	ref := chatplatform.MessageRef{ChannelID: m.ChannelID, Ts: m.Ts}
	// Add the next reaction before removing the previous one (§4.7 step 8):
	// the message must never sit with zero reactions, including during
	// whatever time it spends waiting on the global concurrency semaphore
	// below.
	s.adapter.AddReaction(ctx, ref, chatplatform.ReactionHourglass)
	s.adapter.RemoveReaction(ctx, ref, chatplatform.ReactionInboxTray)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.log.Warn("gateway: acquire process slot", "channel", m.ChannelID, "err", err)
		return
	}
	defer s.sem.Release(1)

	cfg, ok := s.cfg.Resolve(m.ChannelID)
	if !ok {
		s.log.Warn("gateway: channel no longer in config", "channel", m.ChannelID)
		return
	}

	resp, err := newResponder(ctx, cfg.ResponseMode, s.adapter, m.ChannelID, m.ThreadTs, ref)
	if err != nil {
		s.log.Error("gateway: construct responder", "channel", m.ChannelID, "err", err)
		return
	}

	startedAt := time.Now()
	var result supervisor.OneshotResult
	persistent := cfg.ProcessMode == config.ProcessModePersistent
	if persistent {
		result, err = s.supervisor.RunPersistentTurn(ctx, m.ChannelID, cfg, m.Text, resp.OnTextDelta)
	} else {
		result, err = s.supervisor.RunOneshot(ctx, m.ChannelID, cfg, m.Text, m.ImagePaths, resp.OnTextDelta)
	}

	s.recordTurn(m.ChannelID, result, persistent, startedAt, err)

	if finishErr := resp.Finish(ctx, result.Text, err); finishErr != nil {
		s.log.Error("gateway: turn failed", "channel", m.ChannelID, "err", finishErr)
	}
}

func (s *Scheduler) recordTurn(channelID string, result supervisor.OneshotResult, persistent bool, startedAt time.Time, turnErr error) {
	if s.store == nil {
		return
	}
	rec := store.TurnRecord{
		ChannelID:  channelID,
		SessionID:  result.SessionID,
		Persistent: persistent,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if result.Cost != nil {
		rec.CostUSD = *result.Cost
	}
	if result.Tokens != nil {
		rec.Tokens = *result.Tokens
	}
	if turnErr != nil {
		rec.Error = turnErr.Error()
	}
	if err := s.store.RecordTurn(rec); err != nil {
		s.log.Warn("gateway: record turn metrics", "channel", channelID, "err", err)
	}
}

func (s *Scheduler) cleanupImages(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

func newResponder(ctx context.Context, mode config.ResponseMode, adapter chatplatform.Adapter, channelID, threadTs string, ref chatplatform.MessageRef) (responder.Responder, error) {
	switch mode {
	case config.ResponseModeStreamUpdate:
		return responder.NewStreamUpdateResponder(ctx, adapter, channelID, threadTs, ref)
	case config.ResponseModeStreamNative:
		return responder.NewStreamNativeResponder(ctx, adapter, channelID, threadTs, ref)
	default:
		return responder.NewBatchResponder(ctx, adapter, channelID, threadTs, ref)
	}
}
