// Package chatplatform bridges gateway events to a chat platform (Slack,
// Discord). Platform-specific implementations live in the slack and
// discord subpackages; this package defines the shared contract C6/C7/C8
// drive against.
package chatplatform

import (
	"context"
	"time"
)

// Reaction names the bot attaches/removes to reflect turn progress. Values
// are platform-neutral; each adapter maps them to its own emoji names.
type Reaction string

const (
	ReactionInboxTray Reaction = "inbox_tray"
	ReactionHourglass Reaction = "hourglass_flowing_sand"
	ReactionCheckmark Reaction = "white_check_mark"
	ReactionCross     Reaction = "x"
)

// Adapter is the interface platform-specific implementations satisfy. It
// extends the inbound/outbound message contract with the message-identity,
// editing, reaction, file-upload, and native-streaming operations the
// response pipeline (C6) needs.
type Adapter interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) (<-chan InboundMessage, error)
	Close() error

	// PostMessage sends a new threaded message and returns a handle
	// identifying it for later Update/Delete/React calls.
	PostMessage(ctx context.Context, channelID, threadTs, text string) (MessageHandle, error)
	// UpdateMessage replaces the text of a previously posted message.
	UpdateMessage(ctx context.Context, msg MessageHandle, text string) error
	// DeleteMessage removes a previously posted message. Best-effort:
	// callers treat failure as non-fatal.
	DeleteMessage(ctx context.Context, msg MessageHandle) error

	// AddReaction and RemoveReaction attach/detach an emoji reaction to the
	// user's original inbound message.
	AddReaction(ctx context.Context, ref MessageRef, r Reaction) error
	RemoveReaction(ctx context.Context, ref MessageRef, r Reaction) error

	// UploadFile posts a file attachment (e.g. response.md for
	// over-threshold responses) in the given thread.
	UploadFile(ctx context.Context, channelID, threadTs, filename string, content []byte) error

	// DownloadImage fetches an authenticated attachment URL to a local
	// path, enforcing maxBytes, returning the bytes actually written.
	DownloadImage(ctx context.Context, url, destPath string, maxBytes int64) (int64, error)

	// OpenStream opens a native incremental-edit stream for one message,
	// used by the stream-native responder. Implementations without a true
	// streaming API may simulate it with throttled UpdateMessage calls.
	OpenStream(ctx context.Context, channelID, threadTs string) (Stream, error)

	// ResolveChannelRef resolves a user-typed channel reference (mention,
	// bare name, or "#name") to a channel ID, for C8's !kill/!nudge target.
	ResolveChannelRef(ctx context.Context, ref string) (channelID string, ok bool)
	// ChannelName returns the human-readable name for a channel ID, used
	// by !ps to label each active process.
	ChannelName(ctx context.Context, channelID string) string
}

// Stream is a native incremental-edit session for one message.
type Stream interface {
	Append(ctx context.Context, textDelta string) error
	Close(ctx context.Context) error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string
	ChannelID string
	ThreadTs  string // thread root to reply into; empty for a top-level message
	UserID    string
	UserName  string
	Text      string
	Ts        string // platform message identifier, unique per channel
	Timestamp time.Time

	// Subtype distinguishes edits/deletes from ordinary posts; "" for a
	// normal new message.
	Subtype   string // "message_changed" | "message_deleted" | ""
	EditedTs  string // for message_changed: the ts of the message that was edited
	DeletedTs string // for message_deleted: the ts of the message that was removed

	Images []ImageAttachment
	IsBot  bool
}

// ImageAttachment is a supported inbound image the scheduler should
// download before enqueuing.
type ImageAttachment struct {
	URL      string // authenticated download URL
	MimeType string
	SizeHint int64
}

// MessageHandle identifies a message this adapter posted, for
// Update/Delete.
type MessageHandle struct {
	ChannelID string
	Ts        string
}

// MessageRef identifies a user's inbound message, for reactions.
type MessageRef struct {
	ChannelID string
	Ts        string
}
