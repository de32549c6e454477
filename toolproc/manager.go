package toolproc

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Caller is the slice of the client that stages, loaders and executors use.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any, token string) (json.RawMessage, error)
	ExecuteCode(ctx context.Context, code, token string, language Language, timeout time.Duration) (json.RawMessage, error)
}

// Manager hands out a connected client, reconnecting when the previous child
// has died. Inject one Manager per process instead of a package global.
type Manager struct {
	launcher Launcher
	opts     []Option

	mu     sync.Mutex
	client *Client
}

func NewManager(launcher Launcher, opts ...Option) *Manager {
	return &Manager{launcher: launcher, opts: opts}
}

func (m *Manager) Client(ctx context.Context) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		m.client = NewClient(m.launcher, m.opts...)
	}
	if !m.client.Connected() {
		if err := m.client.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return m.client, nil
}

func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any, token string) (json.RawMessage, error) {
	c, err := m.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.CallTool(ctx, name, args, token)
}

func (m *Manager) ExecuteCode(ctx context.Context, code, token string, language Language, timeout time.Duration) (json.RawMessage, error) {
	c, err := m.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.ExecuteCode(ctx, code, token, language, timeout)
}

func (m *Manager) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c, err := m.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListTools(ctx)
}

// Close disconnects the live client, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	return err
}

var (
	_ Caller = (*Client)(nil)
	_ Caller = (*Manager)(nil)
)
