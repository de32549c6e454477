package toolproc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
)

// fakeProcess is an in-memory child. handle is called for every request
// after the handshake; reply may be called from any goroutine, in any order.
type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	writeMu  sync.Mutex
	dead     chan struct{}
	killOnce sync.Once
	served   chan struct{}
}

type handlerFunc func(p *fakeProcess, req Request)

func startFake(handle handlerFunc, rejectHandshake bool) *fakeProcess {
	p := &fakeProcess{dead: make(chan struct{}), served: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go func() {
		defer close(p.served)
		scanner := bufio.NewScanner(p.stdinR)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			if req.Name == methodInitialize {
				if rejectHandshake {
					p.reply(Response{ID: req.ID, Success: false, Error: "unsupported client"})
					continue
				}
				_, _ = p.stderrW.Write([]byte("fake tool server ready\n"))
				p.reply(Response{ID: req.ID, Success: true, Result: json.RawMessage(`{"serverInfo":{"name":"fake"}}`)})
				continue
			}
			handle(p, req)
		}
	}()
	return p
}

func (p *fakeProcess) reply(resp Response) {
	raw, _ := json.Marshal(resp)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, _ = p.stdoutW.Write(append(raw, '\n'))
}

func (p *fakeProcess) ok(id uint64, result string) {
	p.reply(Response{ID: id, Success: true, Result: json.RawMessage(result), ElapsedMs: 1})
}

// crash simulates the child exiting on its own.
func (p *fakeProcess) crash() { _ = p.Kill() }

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }

func (p *fakeProcess) Wait() error {
	<-p.dead
	<-p.served
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() {
		_ = p.stdinR.Close()
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.dead)
	})
	return nil
}

type fakeLauncher struct {
	handle          handlerFunc
	rejectHandshake bool
	launches        atomic.Int32

	mu    sync.Mutex
	procs []*fakeProcess
}

func (l *fakeLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.launches.Add(1)
	p := startFake(l.handle, l.rejectHandshake)
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}
