// Package responder implements the three response pipelines (C6) that
// turn an Agent turn's output into chat messages: batch, edit-throttled
// streaming, and native streaming. All three share reaction choreography,
// markup translation, and the chunk-splitting rule.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
	"github.com/telegate-bridge/telegate/internal/markup"
)

const (
	// MaxMessageLength is the largest chunk posted as a single message.
	MaxMessageLength = 3900
	// FileThreshold is the length above which a response is uploaded as a
	// file attachment instead of being chunked into messages.
	FileThreshold = 12000
	// StreamUpdateIntervalMs is the edit-throttled responder's tick period.
	StreamUpdateIntervalMs = 500

	truncationSuffix    = "\n_[streaming...]_"
	writingIndicator    = " :writing_hand:"
	responseFilename    = "response.md"
	thinkingPlaceholder = ":thinking_face: _thinking..._"
)

// Responder is the shared contract for all three response pipelines. They
// are constructed with an Adapter, channel, and threadTs, receive
// OnTextDelta callbacks in stdout order, and are finalized with Finish,
// which is given the authoritative final text (e.g. a Result event's
// text) and any turn-level error.
type Responder interface {
	OnTextDelta(text string)
	Finish(ctx context.Context, finalText string, turnErr error) error
}

// base holds the fields and reaction choreography shared by all three
// responders.
type base struct {
	adapter   chatplatform.Adapter
	channelID string
	threadTs  string
	ref       chatplatform.MessageRef // the inbound message being reacted to
}

// deliver adds the success reaction before removing the in-progress one,
// so the message never has zero reactions (avoids a visual flicker).
func (b *base) deliver(ctx context.Context) {
	b.adapter.AddReaction(ctx, b.ref, chatplatform.ReactionCheckmark)
	b.adapter.RemoveReaction(ctx, b.ref, chatplatform.ReactionHourglass)
}

// fail posts the required warning reply in the originating thread, then
// transitions the ingress reaction to the cross per §7's propagation
// policy: any failure that leaves the user without a response must surface
// both a threaded warning and an "x" reaction.
func (b *base) fail(ctx context.Context, err error) {
	b.adapter.PostMessage(ctx, b.channelID, b.threadTs, fmt.Sprintf(":warning: Error: %s", err))
	b.adapter.AddReaction(ctx, b.ref, chatplatform.ReactionCross)
	b.adapter.RemoveReaction(ctx, b.ref, chatplatform.ReactionHourglass)
}

// splitMessage implements the shared chunking rule: split at the last
// newline in the window when it lies at or past the window's midpoint
// (max/2), else hard-split at max.
func splitMessage(text string, max int) []string {
	var chunks []string
	remaining := text
	for len(remaining) > max {
		window := remaining[:max]
		split := strings.LastIndex(window, "\n")
		if split == -1 || split < max/2 {
			split = max
		}
		chunks = append(chunks, remaining[:split])
		remaining = strings.TrimLeft(remaining[split:], " \t\n")
	}
	chunks = append(chunks, remaining)
	return chunks
}

// postChunks translates text via C2 and posts it as one or more threaded
// messages, splitting per splitMessage when it exceeds MaxMessageLength.
func (b *base) postChunks(ctx context.Context, text string) error {
	translated := markup.ToChatMarkup(text)
	for _, chunk := range splitMessage(translated, MaxMessageLength) {
		if _, err := b.adapter.PostMessage(ctx, b.channelID, b.threadTs, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) uploadAsFile(ctx context.Context, text string) error {
	return b.adapter.UploadFile(ctx, b.channelID, b.threadTs, responseFilename, []byte(text))
}
