package gateway

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/telegate-bridge/telegate/internal/chatplatform"
	"github.com/telegate-bridge/telegate/internal/supervisor"
)

// fakeProcess is a minimal in-memory supervisor.Process double: enough for
// the scheduler to spawn and immediately complete a oneshot turn.
type fakeProcess struct {
	mu sync.Mutex

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	stdin   *bytes.Buffer

	doneCh chan struct{}
	code   int
	err    error
}

func newFakeProcess() *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{stdoutR: outR, stdoutW: outW, stderrR: errR, stderrW: errW, stdin: &bytes.Buffer{}, doneCh: make(chan struct{})}
}

func (p *fakeProcess) Pid() int                    { return 1 }
func (p *fakeProcess) StdinWriter() io.WriteCloser { return nopWriteCloser{p.stdin} }
func (p *fakeProcess) StdoutReader() io.Reader     { return p.stdoutR }
func (p *fakeProcess) StderrReader() io.Reader     { return p.stderrR }
func (p *fakeProcess) Done() <-chan struct{}       { return p.doneCh }

func (p *fakeProcess) Exited() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.err
}

func (p *fakeProcess) Terminate() error { p.exit(0, nil); return nil }
func (p *fakeProcess) Interrupt() error { return nil }

func (p *fakeProcess) writeLine(line string) { p.stdoutW.Write([]byte(line + "\n")) }

func (p *fakeProcess) exit(code int, err error) {
	p.mu.Lock()
	select {
	case <-p.doneCh:
		p.mu.Unlock()
		return
	default:
	}
	p.code, p.err = code, err
	p.mu.Unlock()
	p.stdoutW.Close()
	p.stderrW.Close()
	close(p.doneCh)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// fakeSpawner spawns a fakeProcess that immediately emits a canned
// stream-json result line and exits, simulating a successful oneshot turn.
type fakeSpawner struct {
	mu         sync.Mutex
	specs      []supervisor.Spec
	resultText string
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec supervisor.Spec) (supervisor.Process, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	text := s.resultText
	s.mu.Unlock()

	proc := newFakeProcess()
	go func() {
		proc.writeLine(`{"type":"assistant","message":{"content":[{"type":"text","text":"` + text + `"}]}}`)
		proc.writeLine(`{"type":"result","subtype":"success","result":"` + text + `","total_cost_usd":0.01,"usage":{"input_tokens":1,"output_tokens":1}}`)
		proc.exit(0, nil)
	}()
	return proc, nil
}

// fakeAdapter is an in-memory chatplatform.Adapter double for gateway
// tests, extending the minimal contract with channel-ref resolution.
type fakeAdapter struct {
	mu sync.Mutex

	posted    []string
	reactions []string
	channels  map[string]string // name -> id
	nextTs    int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{channels: map[string]string{}}
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
	f.posted = append(f.posted, text)
	return chatplatform.MessageHandle{ChannelID: channelID, Ts: "ts" + strconv.Itoa(f.nextTs)}, nil
}

func (f *fakeAdapter) UpdateMessage(ctx context.Context, msg chatplatform.MessageHandle, text string) error {
	return nil
}
func (f *fakeAdapter) DeleteMessage(ctx context.Context, msg chatplatform.MessageHandle) error {
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
	return nil
}

func (f *fakeAdapter) DownloadImage(ctx context.Context, url, destPath string, maxBytes int64) (int64, error) {
	return 0, nil
}

func (f *fakeAdapter) OpenStream(ctx context.Context, channelID, threadTs string) (chatplatform.Stream, error) {
	return nil, nil
}

func (f *fakeAdapter) ResolveChannelRef(ctx context.Context, ref string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.channels[ref]
	return id, ok
}

func (f *fakeAdapter) ChannelName(ctx context.Context, channelID string) string {
	return channelID
}
