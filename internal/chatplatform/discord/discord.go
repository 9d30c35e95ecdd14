// Package discord implements the chatplatform Adapter for Discord using the
// Gateway WebSocket for events and the REST API for posting, editing,
// reacting, and file upload.
package discord

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
)

const (
	maxRetries           = 3
	baseBackoff          = 2 * time.Second
	maxBackoff           = 2 * time.Minute
	maxReconnectAttempts = 10
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	GuildChannels(guildID string) ([]*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	return r.s.GuildChannels(guildID)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEdit(channelID, messageID, content, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionRemove(channelID, messageID, emojiID, userID, options...)
}
func (r *realSession) ChannelFileSend(channelID, name string, rd io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelFileSend(channelID, name, rd, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements chatplatform.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	httpClient    *http.Client
	botToken      string
	channelID     string
	guildID       string
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan chatplatform.InboundMessage
	cancelFunc    context.CancelFunc
	removeHandler func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration
	maxReconnect  int
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken   string
	ChannelID  string
	GuildID    string // used to resolve bare channel-name refs for !kill/!nudge
	Session    session
	HTTPClient *http.Client
}

func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	a := &Adapter{
		botToken:     opts.BotToken,
		channelID:    opts.ChannelID,
		guildID:      opts.GuildID,
		httpClient:   httpClient,
		inbound:      make(chan chatplatform.InboundMessage, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

func (a *Adapter) Listen(ctx context.Context) (<-chan chatplatform.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	remove := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { a.handleMessage(m) })
	removeEdit := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) { a.handleMessageEdit(m) })
	removeDelete := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) { a.handleMessageDelete(m) })
	a.mu.Lock()
	a.removeHandler = func() {
		remove()
		removeEdit()
		removeDelete()
	}
	a.mu.Unlock()

	go func() { <-listenCtx.Done() }()
	return a.inbound, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// PostMessage sends a new message. Discord threads are channels, so
// threadTs (if set) is itself the target channel ID.
func (a *Adapter) PostMessage(ctx context.Context, channelID, threadTs, text string) (chatplatform.MessageHandle, error) {
	target := channelID
	if threadTs != "" {
		target = threadTs
	}
	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		msg, sendErr = a.sess.ChannelMessageSend(target, text)
		return sendErr
	})
	if err != nil {
		return chatplatform.MessageHandle{}, fmt.Errorf("discord: send message: %w", err)
	}
	return chatplatform.MessageHandle{ChannelID: target, Ts: msg.ID}, nil
}

func (a *Adapter) UpdateMessage(ctx context.Context, msg chatplatform.MessageHandle, text string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, editErr := a.sess.ChannelMessageEdit(msg.ChannelID, msg.Ts, text)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, msg chatplatform.MessageHandle) error {
	err := a.retryOnRateLimit(ctx, func() error { return a.sess.ChannelMessageDelete(msg.ChannelID, msg.Ts) })
	if err != nil {
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

var reactionEmoji = map[chatplatform.Reaction]string{
	chatplatform.ReactionInboxTray: "\U0001F4E5",
	chatplatform.ReactionHourglass: "⌛",
	chatplatform.ReactionCheckmark: "✅",
	chatplatform.ReactionCross:     "❌",
}

func (a *Adapter) AddReaction(ctx context.Context, ref chatplatform.MessageRef, r chatplatform.Reaction) error {
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.MessageReactionAdd(ref.ChannelID, ref.Ts, reactionEmoji[r])
	})
	if err != nil {
		return fmt.Errorf("discord: add reaction: %w", err)
	}
	return nil
}

func (a *Adapter) RemoveReaction(ctx context.Context, ref chatplatform.MessageRef, r chatplatform.Reaction) error {
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.MessageReactionRemove(ref.ChannelID, ref.Ts, reactionEmoji[r], "@me")
	})
	if err != nil {
		return fmt.Errorf("discord: remove reaction: %w", err)
	}
	return nil
}

func (a *Adapter) UploadFile(ctx context.Context, channelID, threadTs, filename string, content []byte) error {
	target := channelID
	if threadTs != "" {
		target = threadTs
	}
	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelFileSend(target, filename, strings.NewReader(string(content)))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: upload file: %w", err)
	}
	return nil
}

// DownloadImage fetches a Discord CDN attachment URL, which is already
// pre-signed and needs no auth header.
func (a *Adapter) DownloadImage(ctx context.Context, url, destPath string, maxBytes int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("discord: build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("discord: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("discord: download image: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("discord: create %s: %w", destPath, err)
	}
	defer out.Close()

	n, err := io.CopyN(out, resp.Body, maxBytes+1)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("discord: write %s: %w", destPath, err)
	}
	if n > maxBytes {
		return n, fmt.Errorf("discord: image exceeds %d bytes", maxBytes)
	}
	return n, nil
}

// OpenStream simulates native streaming with throttled edits, same
// rationale as the Slack adapter: Discord has no incremental-append API.
func (a *Adapter) OpenStream(ctx context.Context, channelID, threadTs string) (chatplatform.Stream, error) {
	handle, err := a.PostMessage(ctx, channelID, threadTs, "​")
	if err != nil {
		return nil, err
	}
	return &stream{adapter: a, handle: handle}, nil
}

type stream struct {
	adapter *Adapter
	handle  chatplatform.MessageHandle
	mu      sync.Mutex
	text    strings.Builder
}

func (s *stream) Append(ctx context.Context, textDelta string) error {
	s.mu.Lock()
	s.text.WriteString(textDelta)
	snapshot := s.text.String()
	s.mu.Unlock()
	return s.adapter.UpdateMessage(ctx, s.handle, snapshot)
}

func (s *stream) Close(ctx context.Context) error { return nil }

var discordMentionRe = regexp.MustCompile(`^<#(\d+)>$`)

func (a *Adapter) ResolveChannelRef(ctx context.Context, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if m := discordMentionRe.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	name := strings.TrimPrefix(ref, "#")
	if a.guildID == "" {
		return "", false
	}
	channels, err := a.sess.GuildChannels(a.guildID)
	if err != nil {
		return "", false
	}
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID, true
		}
	}
	return "", false
}

func (a *Adapter) ChannelName(ctx context.Context, channelID string) string {
	ch, err := a.sess.Channel(channelID)
	if err != nil {
		return channelID
	}
	return ch.Name
}

func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	channelID := m.ChannelID
	threadTs := ""
	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		channelID = ch.ParentID
		threadTs = m.ChannelID
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	a.inbound <- chatplatform.InboundMessage{
		Platform:  "discord",
		ChannelID: channelID,
		ThreadTs:  threadTs,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Ts:        m.ID,
		Timestamp: ts,
		Images:    extractImages(m.Attachments),
	}
}

func (a *Adapter) handleMessageEdit(m *discordgo.MessageUpdate) {
	if m.Author == nil {
		return
	}
	a.inbound <- chatplatform.InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		Subtype:   "message_changed",
		EditedTs:  m.ID,
		Text:      m.Content,
	}
}

func (a *Adapter) handleMessageDelete(m *discordgo.MessageDelete) {
	a.inbound <- chatplatform.InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		Subtype:   "message_deleted",
		DeletedTs: m.ID,
	}
}

var supportedImageContentType = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

func extractImages(attachments []*discordgo.MessageAttachment) []chatplatform.ImageAttachment {
	var out []chatplatform.ImageAttachment
	for _, att := range attachments {
		if !supportedImageContentType[att.ContentType] {
			continue
		}
		out = append(out, chatplatform.ImageAttachment{
			URL:      att.URL,
			MimeType: att.ContentType,
			SizeHint: int64(att.Size),
		})
	}
	return out
}

func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d) — retrying in %v", attempt+1, maxRetries, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
