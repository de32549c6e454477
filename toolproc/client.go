package toolproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultExecTimeout = 30 * time.Second
	MaxExecTimeout     = 60 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 30 * time.Second
	maxLineBytes            = 16 << 20
	shutdownGrace           = time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client owns one tool process at a time. Calls may run concurrently; only
// line writes are serialized.
type Client struct {
	launcher         Launcher
	logger           *zap.Logger
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	clientName       string

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu    sync.Mutex
	state State
	conn  *conn

	nextID atomic.Uint64
}

// conn is one spawned child. pending is guarded by Client.mu and set to nil
// once the connection is gone.
type conn struct {
	proc    Process
	pending map[uint64]chan Response
	exited  chan struct{}
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithCallTimeout bounds CallTool round trips. Zero leaves only the context.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.callTimeout = d
		}
	}
}

func WithClientName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.clientName = name
		}
	}
}

func NewClient(launcher Launcher, opts ...Option) *Client {
	c := &Client{
		launcher:         launcher,
		logger:           zap.NewNop(),
		handshakeTimeout: defaultHandshakeTimeout,
		callTimeout:      defaultCallTimeout,
		clientName:       "coachflow",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool { return c.State() == StateConnected }

// Connect spawns the child and performs the handshake. It is a no-op while
// connected and spawns a fresh child if the previous one died.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if c.launcher == nil {
		c.setState(StateDisconnected)
		return &ConnectionError{Op: "spawn", Err: errors.New("no launcher configured")}
	}
	proc, err := c.launcher.Launch(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return &ConnectionError{Op: "spawn", Err: err}
	}

	cn := &conn{
		proc:    proc,
		pending: map[uint64]chan Response{},
		exited:  make(chan struct{}),
	}
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()

	stderrDone := make(chan struct{})
	go c.readStderr(cn, stderrDone)
	go c.readStdout(cn, stderrDone)

	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()
	resp, err := c.roundTrip(hctx, cn, Request{
		Name: methodInitialize,
		Arguments: map[string]any{
			"clientInfo": map[string]string{"name": c.clientName},
		},
	}, c.handshakeTimeout)
	if err == nil && !resp.Success {
		err = fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	if err != nil {
		c.teardown(cn)
		return &ConnectionError{Op: "handshake", Err: err}
	}

	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return &ConnectionError{Op: "handshake", Err: ErrProcessExited}
	}
	c.state = StateConnected
	c.mu.Unlock()
	c.logger.Info("tool process connected")
	return nil
}

// Disconnect stops the child and fails every pending call.
func (c *Client) Disconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		c.setState(StateDisconnected)
		return nil
	}
	c.teardown(cn)

	select {
	case <-cn.exited:
	case <-time.After(shutdownGrace):
		c.logger.Warn("timeout waiting for tool process readers to exit")
	}
	c.logger.Info("tool process disconnected")
	return nil
}

// CallTool invokes name with args. A non-empty token is merged into the
// arguments as "token".
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, token string) (json.RawMessage, error) {
	arguments := make(map[string]any, len(args)+1)
	for k, v := range args {
		arguments[k] = v
	}
	if token != "" {
		arguments["token"] = token
	}
	return c.invoke(ctx, Request{Name: name, Arguments: arguments}, c.callTimeout)
}

// ExecuteCode runs code inside the tool process sandbox. A non-positive
// timeout means DefaultExecTimeout; anything above MaxExecTimeout is capped.
func (c *Client) ExecuteCode(ctx context.Context, code, token string, language Language, timeout time.Duration) (json.RawMessage, error) {
	if language == "" {
		language = LanguageTypeScript
	}
	timeout = EffectiveTimeout(timeout)
	// The sandbox reads "timeout"; both carry milliseconds.
	args := map[string]any{
		"code":      code,
		"language":  string(language),
		"timeout":   timeout.Milliseconds(),
		"timeoutMs": timeout.Milliseconds(),
	}
	if token != "" {
		args["token"] = token
	}
	return c.invoke(ctx, Request{Name: toolExecuteCode, Arguments: args, IsCodeExecution: true}, timeout)
}

func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.invoke(ctx, Request{Name: methodListTools}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools response: %w", err)
	}
	return result.Tools, nil
}

// EffectiveTimeout applies the code execution default and cap.
func EffectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultExecTimeout
	}
	if timeout > MaxExecTimeout {
		return MaxExecTimeout
	}
	return timeout
}

func (c *Client) invoke(ctx context.Context, req Request, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	cn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if cn == nil || !connected {
		return nil, ErrNotConnected
	}

	resp, err := c.roundTrip(ctx, cn, req, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ToolError{Tool: req.Name, Message: resp.Error, Payload: resp.Result}
	}
	c.logger.Debug("tool call completed", zap.String("tool", req.Name), zap.Int64("elapsed_ms", resp.ElapsedMs))
	return resp.Result, nil
}

func (c *Client) roundTrip(ctx context.Context, cn *conn, req Request, timeout time.Duration) (Response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if cn.pending == nil {
		c.mu.Unlock()
		return Response{}, &ConnectionError{Op: "call", Err: ErrProcessExited}
	}
	cn.pending[req.ID] = ch
	c.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		c.forget(cn, req.ID)
		return Response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	_, err = cn.proc.Stdin().Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(cn, req.ID)
		return Response{}, &ConnectionError{Op: "write", Err: err}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, &ConnectionError{Op: "read", Err: ErrProcessExited}
		}
		return resp, nil
	case <-expired:
		c.forget(cn, req.ID)
		return Response{}, &TimeoutError{Tool: req.Name, After: timeout}
	case <-ctx.Done():
		c.forget(cn, req.ID)
		return Response{}, ctx.Err()
	}
}

func (c *Client) forget(cn *conn, id uint64) {
	c.mu.Lock()
	if cn.pending != nil {
		delete(cn.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) readStdout(cn *conn, stderrDone <-chan struct{}) {
	scanner := bufio.NewScanner(cn.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("failed to parse tool process output", zap.Error(err))
			continue
		}
		if resp.ID == 0 {
			c.logger.Debug("tool process notification", zap.ByteString("line", line))
			continue
		}

		c.mu.Lock()
		ch, ok := cn.pending[resp.ID]
		if ok {
			delete(cn.pending, resp.ID)
			ch <- resp
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("response for unknown request id", zap.Uint64("id", resp.ID))
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("tool process stdout closed", zap.Error(err))
	}

	c.teardown(cn)
	<-stderrDone
	if err := cn.proc.Wait(); err != nil {
		c.logger.Debug("tool process exited", zap.Error(err))
	}
	close(cn.exited)
}

func (c *Client) readStderr(cn *conn, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(cn.proc.Stderr())
	for scanner.Scan() {
		c.logger.Debug("tool process stderr", zap.String("line", scanner.Text()))
	}
}

// teardown detaches cn, fails its pending calls and stops the child. It is
// safe to call more than once.
func (c *Client) teardown(cn *conn) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
		c.state = StateDisconnected
	}
	pending := cn.pending
	cn.pending = nil
	for id, ch := range pending {
		close(ch)
		delete(pending, id)
	}
	c.mu.Unlock()

	if pending == nil {
		return
	}
	_ = cn.proc.Stdin().Close()
	_ = cn.proc.Kill()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
