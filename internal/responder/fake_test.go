package responder

import (
	"context"
	"strconv"
	"sync"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
)

// fakeAdapter is an in-memory chatplatform.Adapter double recording every
// call for assertions.
type fakeAdapter struct {
	mu sync.Mutex

	posted    []string
	updated   map[string]string // ts -> last text
	deleted   map[string]bool
	uploaded  []string
	reactions []string // e.g. "add:white_check_mark"

	nextTs int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{updated: map[string]string{}, deleted: map[string]bool{}}
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeAdapter) Listen(ctx context.Context) (<-chan chatplatform.InboundMessage, error) {
	return nil, nil
}
func (f *fakeAdapter) Close() error { return nil }

func (f *fakeAdapter) PostMessage(ctx context.Context, channelID, threadTs, text string) (chatplatform.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTs++
	ts := "ts" + strconv.Itoa(f.nextTs)
	f.posted = append(f.posted, text)
	f.updated[ts] = text
	return chatplatform.MessageHandle{ChannelID: channelID, Ts: ts}, nil
}

func (f *fakeAdapter) UpdateMessage(ctx context.Context, msg chatplatform.MessageHandle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[msg.Ts] = text
	return nil
}

func (f *fakeAdapter) DeleteMessage(ctx context.Context, msg chatplatform.MessageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[msg.Ts] = true
	return nil
}

func (f *fakeAdapter) AddReaction(ctx context.Context, ref chatplatform.MessageRef, r chatplatform.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, "add:"+string(r))
	return nil
}

func (f *fakeAdapter) RemoveReaction(ctx context.Context, ref chatplatform.MessageRef, r chatplatform.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, "remove:"+string(r))
	return nil
}

func (f *fakeAdapter) UploadFile(ctx context.Context, channelID, threadTs, filename string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, filename)
	return nil
}

func (f *fakeAdapter) DownloadImage(ctx context.Context, url, destPath string, maxBytes int64) (int64, error) {
	return 0, nil
}

func (f *fakeAdapter) OpenStream(ctx context.Context, channelID, threadTs string) (chatplatform.Stream, error) {
	return &fakeStream{adapter: f}, nil
}

func (f *fakeAdapter) ResolveChannelRef(ctx context.Context, ref string) (string, bool) { return "", false }
func (f *fakeAdapter) ChannelName(ctx context.Context, channelID string) string         { return channelID }

func (f *fakeAdapter) lastUpdate(ts string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updated[ts]
}

type fakeStream struct {
	adapter *fakeAdapter
	mu      sync.Mutex
	text    string
}

func (s *fakeStream) Append(ctx context.Context, textDelta string) error {
	s.mu.Lock()
	s.text += textDelta
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close(ctx context.Context) error { return nil }
