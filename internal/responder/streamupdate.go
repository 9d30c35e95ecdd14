package responder

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
	"github.com/telegate-bridge/telegate/internal/markup"
)

// StreamUpdateResponder posts an initial message on the first delta, then
// edits it on a fixed tick as long as the accumulated text has grown.
type StreamUpdateResponder struct {
	base
	ctx context.Context

	mu          sync.Mutex
	fullText    strings.Builder
	lastFlushed string
	handle      chatplatform.MessageHandle
	posted      bool

	ticker     *time.Ticker
	stopTicker chan struct{}
	tickerDone chan struct{}

	// limiter self-throttles UpdateMessage calls so a burst of ticks plus a
	// final flush can never exceed the platform's edit rate limit.
	limiter *rate.Limiter
}

// NewStreamUpdateResponder constructs the responder. The in-progress
// reaction is armed by the caller before construction, not here — see
// Scheduler.processOne. ctx is retained for the background ticker's
// UpdateMessage calls, which happen outside any single OnTextDelta call.
func NewStreamUpdateResponder(ctx context.Context, adapter chatplatform.Adapter, channelID, threadTs string, ref chatplatform.MessageRef) (*StreamUpdateResponder, error) {
	r := &StreamUpdateResponder{
		base:       base{adapter: adapter, channelID: channelID, threadTs: threadTs, ref: ref},
		ctx:        ctx,
		stopTicker: make(chan struct{}),
		tickerDone: make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Every(StreamUpdateIntervalMs*time.Millisecond), 1),
	}
	return r, nil
}

func (r *StreamUpdateResponder) OnTextDelta(text string) {
	r.mu.Lock()
	r.fullText.WriteString(text)
	needsInit := !r.posted
	r.mu.Unlock()

	if needsInit {
		r.beginStreaming()
	}
}

func (r *StreamUpdateResponder) beginStreaming() {
	r.mu.Lock()
	if r.posted {
		r.mu.Unlock()
		return
	}
	r.posted = true
	r.mu.Unlock()

	handle, err := r.adapter.PostMessage(r.ctx, r.channelID, r.threadTs, "")
	if err != nil {
		return
	}
	r.mu.Lock()
	r.handle = handle
	r.mu.Unlock()

	r.ticker = time.NewTicker(StreamUpdateIntervalMs * time.Millisecond)
	go r.tickLoop()
}

func (r *StreamUpdateResponder) tickLoop() {
	defer close(r.tickerDone)
	for {
		select {
		case <-r.stopTicker:
			return
		case <-r.ticker.C:
			r.flush(true)
		}
	}
}

// flush re-renders the accumulated text and updates the posted message if
// it has grown since the last flush. streaming controls whether the
// writing indicator is appended and whether room is reserved for the
// truncation suffix.
func (r *StreamUpdateResponder) flush(streaming bool) {
	r.mu.Lock()
	text := r.fullText.String()
	if text == r.lastFlushed {
		r.mu.Unlock()
		return
	}
	r.lastFlushed = text
	handle := r.handle
	r.mu.Unlock()

	translated := markup.ToChatMarkup(text)
	limit := MaxMessageLength
	if streaming {
		limit -= len(truncationSuffix)
	}
	rendered := translated
	if len(rendered) > limit {
		rendered = rendered[:limit] + truncationSuffix
	}
	if streaming {
		rendered += writingIndicator
	}

	r.limiter.Wait(r.ctx)
	r.adapter.UpdateMessage(r.ctx, handle, rendered)
}

func (r *StreamUpdateResponder) Finish(ctx context.Context, finalText string, turnErr error) error {
	if r.ticker != nil {
		close(r.stopTicker)
		r.ticker.Stop()
		<-r.tickerDone
	}

	if turnErr != nil {
		r.fail(ctx, turnErr)
		return turnErr
	}

	text := finalText
	if text == "" {
		r.mu.Lock()
		text = r.fullText.String()
		r.mu.Unlock()
	}

	if !r.posted {
		handle, err := r.adapter.PostMessage(ctx, r.channelID, r.threadTs, "")
		if err != nil {
			r.fail(ctx, err)
			return err
		}
		r.mu.Lock()
		r.handle = handle
		r.posted = true
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.fullText.Reset()
	r.fullText.WriteString(text)
	r.lastFlushed = ""
	r.mu.Unlock()
	r.flush(false)

	var err error
	switch {
	case len(text) > FileThreshold:
		r.adapter.DeleteMessage(ctx, r.handle)
		err = r.uploadAsFile(ctx, text)
	case len(text) > MaxMessageLength:
		chunks := splitMessage(markup.ToChatMarkup(text), MaxMessageLength)
		err = r.adapter.UpdateMessage(ctx, r.handle, chunks[0])
		for _, c := range chunks[1:] {
			if err != nil {
				break
			}
			_, err = r.adapter.PostMessage(ctx, r.channelID, r.threadTs, c)
		}
	}
	if err != nil {
		r.fail(ctx, err)
		return err
	}

	r.deliver(ctx)
	return nil
}
