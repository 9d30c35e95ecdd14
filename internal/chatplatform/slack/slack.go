// Package slack implements the chatplatform Adapter for Slack using Socket
// Mode for events and the Web API for posting, editing, reacting, and file
// upload.
package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
	"github.com/telegate-bridge/telegate/internal/telemetry"
)

const (
	maxRetries            = 3
	baseBackoff           = 2 * time.Second
	maxBackoff            = 2 * time.Minute
	maxReconnectAttempts  = 10
	streamUpdateBatchSize = 1 // OpenStream flushes on every Append, per §4.6's "buffer size hint = 1"
)

// slackClient abstracts the Slack Web API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, ts string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, ts string) (string, string, error)
	AddReaction(name string, ref slackapi.ItemRef) error
	RemoveReaction(name string, ref slackapi.ItemRef) error
	UploadFileV2(params slackapi.UploadFileV2Parameters) (*slackapi.FileSummary, error)
	GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetConversationsForUser(params *slackapi.GetConversationsForUserParameters) ([]slackapi.Channel, string, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements chatplatform.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	httpClient   *http.Client
	botUserID    string
	appToken     string
	botToken     string
	channelID    string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan chatplatform.InboundMessage
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
	log          *slog.Logger
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken  string
	BotToken  string
	ChannelID string
	// For testing: inject mock clients instead of real Slack API.
	Client     slackClient
	Socket     socketClient
	HTTPClient *http.Client
}

func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	a := &Adapter{
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		channelID:    opts.ChannelID,
		httpClient:   httpClient,
		inbound:      make(chan chatplatform.InboundMessage, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
		log:          telemetry.ForComponent(telemetry.CompSlack),
	}
	if opts.Client != nil {
		a.client = opts.Client
	}
	if opts.Socket != nil {
		a.socket = opts.Socket
	}
	return a, nil
}

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

func (a *Adapter) Listen(ctx context.Context) (<-chan chatplatform.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

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
	close(a.inbound)
	return nil
}

func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// PostMessage sends a new threaded message.
func (a *Adapter) PostMessage(ctx context.Context, channelID, threadTs, text string) (chatplatform.MessageHandle, error) {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTs != "" {
		options = append(options, slackapi.MsgOptionTS(threadTs))
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		_, postTs, postErr := a.client.PostMessage(channelID, options...)
		ts = postTs
		return postErr
	})
	if err != nil {
		return chatplatform.MessageHandle{}, fmt.Errorf("slack: post message: %w", err)
	}
	return chatplatform.MessageHandle{ChannelID: channelID, Ts: ts}, nil
}

func (a *Adapter) UpdateMessage(ctx context.Context, msg chatplatform.MessageHandle, text string) error {
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updateErr := a.client.UpdateMessage(msg.ChannelID, msg.Ts, slackapi.MsgOptionText(text, false))
		return updateErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, msg chatplatform.MessageHandle) error {
	err := retryOnRateLimit(ctx, func() error {
		_, _, delErr := a.client.DeleteMessage(msg.ChannelID, msg.Ts)
		return delErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete message: %w", err)
	}
	return nil
}

func (a *Adapter) AddReaction(ctx context.Context, ref chatplatform.MessageRef, r chatplatform.Reaction) error {
	item := slackapi.NewRefToMessage(ref.ChannelID, ref.Ts)
	err := retryOnRateLimit(ctx, func() error { return a.client.AddReaction(string(r), item) })
	if err != nil {
		return fmt.Errorf("slack: add reaction: %w", err)
	}
	return nil
}

func (a *Adapter) RemoveReaction(ctx context.Context, ref chatplatform.MessageRef, r chatplatform.Reaction) error {
	item := slackapi.NewRefToMessage(ref.ChannelID, ref.Ts)
	err := retryOnRateLimit(ctx, func() error { return a.client.RemoveReaction(string(r), item) })
	if err != nil {
		return fmt.Errorf("slack: remove reaction: %w", err)
	}
	return nil
}

func (a *Adapter) UploadFile(ctx context.Context, channelID, threadTs, filename string, content []byte) error {
	params := slackapi.UploadFileV2Parameters{
		Channel:         channelID,
		Filename:        filename,
		FileSize:        len(content),
		Reader:          strings.NewReader(string(content)),
		ThreadTimestamp: threadTs,
	}
	err := retryOnRateLimit(ctx, func() error {
		_, uploadErr := a.client.UploadFileV2(params)
		return uploadErr
	})
	if err != nil {
		return fmt.Errorf("slack: upload file: %w", err)
	}
	return nil
}

// DownloadImage performs an authenticated GET (Slack file URLs require the
// bot token as a bearer credential) and writes up to maxBytes to destPath.
func (a *Adapter) DownloadImage(ctx context.Context, url, destPath string, maxBytes int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("slack: build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.botToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("slack: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("slack: download image: status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("slack: create %s: %w", destPath, err)
	}
	defer out.Close()

	n, err := io.CopyN(out, resp.Body, maxBytes+1)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("slack: write %s: %w", destPath, err)
	}
	if n > maxBytes {
		return n, fmt.Errorf("slack: image exceeds %d bytes", maxBytes)
	}
	return n, nil
}

// OpenStream simulates native streaming with message edits: Slack has no
// incremental-append API, so OpenStream posts an empty message and each
// Append issues an Update of the accumulated text against it.
func (a *Adapter) OpenStream(ctx context.Context, channelID, threadTs string) (chatplatform.Stream, error) {
	handle, err := a.PostMessage(ctx, channelID, threadTs, "")
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

var channelMentionRe = regexp.MustCompile(`^<#([A-Z0-9]+)(\|[^>]*)?>$`)

// ResolveChannelRef resolves a mention (<#C123|general>), a bare name
// ("general"), or a leading-# name ("#general") to a channel ID.
func (a *Adapter) ResolveChannelRef(ctx context.Context, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if m := channelMentionRe.FindStringSubmatch(ref); m != nil {
		return m[1], true
	}
	name := strings.TrimPrefix(ref, "#")

	cursor := ""
	for {
		channels, next, err := a.client.GetConversationsForUser(&slackapi.GetConversationsForUserParameters{Cursor: cursor, Limit: 200})
		if err != nil {
			return "", false
		}
		for _, ch := range channels {
			if ch.Name == name {
				return ch.ID, true
			}
		}
		if next == "" {
			return "", false
		}
		cursor = next
	}
}

func (a *Adapter) ChannelName(ctx context.Context, channelID string) string {
	ch, err := a.client.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return channelID
	}
	return ch.Name
}

func (a *Adapter) ThreadHistory(ctx context.Context, channelID, threadID string, limit int) ([]ThreadMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	var allMsgs []ThreadMessage
	cursor := ""
	pageSize := 200
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	for {
		params := &slackapi.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: threadID,
			Limit:     pageSize,
			Cursor:    cursor,
		}

		var msgs []slackapi.Message
		var hasMore bool
		var nextCursor string
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, hasMore, nextCursor, apiErr = a.client.GetConversationReplies(params)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversation replies: %w", err)
		}

		for _, m := range msgs {
			allMsgs = append(allMsgs, ThreadMessage{
				UserID:    m.User,
				UserName:  a.resolveUserName(m.User),
				Text:      m.Text,
				Timestamp: parseSlackTimestamp(m.Timestamp),
			})
		}

		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
		if limit > 0 && len(allMsgs) >= limit {
			allMsgs = allMsgs[:limit]
			break
		}
	}
	return allMsgs, nil
}

// ThreadMessage is a single historical message within a thread.
type ThreadMessage struct {
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}

// runWithReconnect keeps socketmode's blocking Run loop alive across
// transient disconnects, backing off exponentially between attempts and
// giving up once maxReconnect is exhausted (an operator then has to
// restart the daemon; Socket Mode never signals a permanent revocation
// distinctly from a flaky network).
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		runErr := a.socket.Run()
		if runErr == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if backoff > a.maxBackoff {
			backoff = a.maxBackoff
		}
		a.log.Warn("socket mode disconnected, reconnecting",
			"attempt", attempt+1, "max_attempts", a.maxReconnect, "err", runErr, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
	a.log.Error("socket mode reconnection attempts exhausted, giving up", "max_attempts", a.maxReconnect)
}

func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)
	case socketmode.EventTypeConnecting:
		a.log.Info("connecting to socket mode")
	case socketmode.EventTypeConnected:
		a.log.Info("connected to socket mode")
	case socketmode.EventTypeConnectionError:
		a.log.Warn("socket mode connection error", "err", evt.Data)
	case socketmode.EventTypeDisconnect:
		a.log.Info("server requested disconnect, will reconnect")
	}
}

func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	case *slackevents.AppMentionEvent:
		a.inbound <- chatplatform.InboundMessage{
			Platform:  "slack",
			ChannelID: ev.Channel,
			ThreadTs:  ev.ThreadTimeStamp,
			UserID:    ev.User,
			UserName:  a.resolveUserName(ev.User),
			Text:      ev.Text,
			Ts:        ev.TimeStamp,
			Timestamp: parseSlackTimestamp(ev.TimeStamp),
		}
	}
}

func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == a.botUserID {
		return
	}
	if ev.BotID != "" {
		return
	}

	switch ev.SubType {
	case "":
		a.inbound <- chatplatform.InboundMessage{
			Platform:  "slack",
			ChannelID: ev.Channel,
			ThreadTs:  ev.ThreadTimeStamp,
			UserID:    ev.User,
			UserName:  a.resolveUserName(ev.User),
			Text:      ev.Text,
			Ts:        ev.TimeStamp,
			Timestamp: parseSlackTimestamp(ev.TimeStamp),
			Images:    extractImages(ev),
		}
	case "message_changed":
		if ev.Message == nil {
			return
		}
		a.inbound <- chatplatform.InboundMessage{
			Platform:  "slack",
			ChannelID: ev.Channel,
			Subtype:   "message_changed",
			EditedTs:  ev.Message.Timestamp,
			Text:      ev.Message.Text,
			Timestamp: parseSlackTimestamp(ev.Message.Timestamp),
		}
	case "message_deleted":
		a.inbound <- chatplatform.InboundMessage{
			Platform:  "slack",
			ChannelID: ev.Channel,
			Subtype:   "message_deleted",
			DeletedTs: ev.PreviousMessage.Timestamp,
		}
	}
}

var supportedImageMIME = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

func extractImages(ev *slackevents.MessageEvent) []chatplatform.ImageAttachment {
	var out []chatplatform.ImageAttachment
	for _, f := range ev.Message.Files {
		if !supportedImageMIME[f.Mimetype] {
			continue
		}
		out = append(out, chatplatform.ImageAttachment{
			URL:      f.URLPrivateDownload,
			MimeType: f.Mimetype,
			SizeHint: int64(f.Size),
		})
	}
	return out
}

func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
