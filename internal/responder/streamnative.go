package responder

import (
	"context"
	"sync"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
)

// StreamNativeResponder posts a placeholder immediately, then switches to
// the adapter's native incremental-edit stream on the first delta.
type StreamNativeResponder struct {
	base
	ctx context.Context

	mu          sync.Mutex
	placeholder chatplatform.MessageHandle
	stream      chatplatform.Stream
	gotDelta    bool
	fullText    []byte
}

func NewStreamNativeResponder(ctx context.Context, adapter chatplatform.Adapter, channelID, threadTs string, ref chatplatform.MessageRef) (*StreamNativeResponder, error) {
	r := &StreamNativeResponder{base: base{adapter: adapter, channelID: channelID, threadTs: threadTs, ref: ref}, ctx: ctx}
	placeholder, err := adapter.PostMessage(ctx, channelID, threadTs, thinkingPlaceholder)
	if err != nil {
		return nil, err
	}
	r.placeholder = placeholder
	return r, nil
}

func (r *StreamNativeResponder) OnTextDelta(text string) {
	r.mu.Lock()
	first := !r.gotDelta
	r.gotDelta = true
	r.fullText = append(r.fullText, text...)
	r.mu.Unlock()

	if first {
		stream, err := r.adapter.OpenStream(r.ctx, r.channelID, r.threadTs)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.stream = stream
		r.mu.Unlock()
		r.adapter.DeleteMessage(r.ctx, r.placeholder)
	}

	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream != nil {
		stream.Append(r.ctx, text)
	}
}

func (r *StreamNativeResponder) Finish(ctx context.Context, finalText string, turnErr error) error {
	r.mu.Lock()
	stream := r.stream
	gotDelta := r.gotDelta
	text := finalText
	if text == "" {
		text = string(r.fullText)
	}
	r.mu.Unlock()

	if stream != nil {
		stream.Close(ctx)
	}
	if !gotDelta {
		r.adapter.DeleteMessage(ctx, r.placeholder)
	}

	if turnErr != nil {
		r.fail(ctx, turnErr)
		return turnErr
	}

	if len(text) > FileThreshold {
		if err := r.uploadAsFile(ctx, text); err != nil {
			r.fail(ctx, err)
			return err
		}
	}

	r.deliver(ctx)
	return nil
}
