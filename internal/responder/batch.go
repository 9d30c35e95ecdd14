package responder

import (
	"context"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
)

// BatchResponder ignores deltas entirely and posts the complete response
// only once the turn finishes.
type BatchResponder struct {
	base
}

// NewBatchResponder constructs a batch responder. The in-progress reaction
// is armed by the caller (the scheduler, before the process slot is
// acquired) rather than here — see Scheduler.processOne.
func NewBatchResponder(ctx context.Context, adapter chatplatform.Adapter, channelID, threadTs string, ref chatplatform.MessageRef) (*BatchResponder, error) {
	r := &BatchResponder{base: base{adapter: adapter, channelID: channelID, threadTs: threadTs, ref: ref}}
	return r, nil
}

// OnTextDelta is a no-op: batch mode only renders the final text.
func (r *BatchResponder) OnTextDelta(text string) {}

func (r *BatchResponder) Finish(ctx context.Context, finalText string, turnErr error) error {
	if turnErr != nil {
		r.fail(ctx, turnErr)
		return turnErr
	}

	var err error
	if len(finalText) > FileThreshold {
		err = r.uploadAsFile(ctx, finalText)
	} else {
		err = r.postChunks(ctx, finalText)
	}
	if err != nil {
		r.fail(ctx, err)
		return err
	}

	r.deliver(ctx)
	return nil
}
