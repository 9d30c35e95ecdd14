package supervisor

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// fakeProcess is an in-memory Process double. Tests write to stdoutW /
// stderrW to simulate Agent output and call exit to simulate process
// death.
type fakeProcess struct {
	mu sync.Mutex

	stdoutR, stdoutW *io.PipeReader
	stdoutWriter     *io.PipeWriter
	stderrR          *io.PipeReader
	stderrWriter     *io.PipeWriter

	stdin *bytes.Buffer

	doneCh chan struct{}
	code   int
	err    error

	terminated bool
	interrupts int
	pid        int
}

func newFakeProcess(pid int) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{
		stdoutR:      outR,
		stdoutWriter: outW,
		stderrR:      errR,
		stderrWriter: errW,
		stdin:        &bytes.Buffer{},
		doneCh:       make(chan struct{}),
		pid:          pid,
	}
}

func (p *fakeProcess) Pid() int                    { return p.pid }
func (p *fakeProcess) StdinWriter() io.WriteCloser { return nopWriteCloser{p.stdin} }
func (p *fakeProcess) StdoutReader() io.Reader     { return p.stdoutR }
func (p *fakeProcess) StderrReader() io.Reader     { return p.stderrR }
func (p *fakeProcess) Done() <-chan struct{}       { return p.doneCh }

func (p *fakeProcess) Exited() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.err
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit(0, nil)
	return nil
}

func (p *fakeProcess) Interrupt() error {
	p.mu.Lock()
	p.interrupts++
	p.mu.Unlock()
	return nil
}

// writeStdout sends a line (newline appended) into the stdout pipe.
func (p *fakeProcess) writeStdout(line string) {
	p.stdoutWriter.Write([]byte(line + "\n"))
}

func (p *fakeProcess) writeStderr(text string) {
	p.stderrWriter.Write([]byte(text))
}

// exit simulates the process terminating with the given exit code,
// closing its output pipes and Done channel exactly once.
func (p *fakeProcess) exit(code int, err error) {
	p.mu.Lock()
	select {
	case <-p.doneCh:
		p.mu.Unlock()
		return
	default:
	}
	p.code = code
	p.err = err
	p.mu.Unlock()
	p.stdoutWriter.Close()
	p.stderrWriter.Close()
	close(p.doneCh)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// fakeSpawner hands out fakeProcesses in sequence, recording every Spec it
// was asked to spawn.
type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	specs   []Spec
	nextPid int
	onSpawn func(spec Spec, proc *fakeProcess)
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	s.mu.Lock()
	s.nextPid++
	proc := newFakeProcess(s.nextPid)
	s.procs = append(s.procs, proc)
	s.specs = append(s.specs, spec)
	cb := s.onSpawn
	s.mu.Unlock()
	if cb != nil {
		cb(spec, proc)
	}
	return proc, nil
}

func (s *fakeSpawner) lastProc() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
