// Package toolserver supervises the external tool providers an agent can
// bind to. Each provider is reached over MCP, either through a child process
// speaking on stdin/stdout or through a long-lived HTTP stream.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/version"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	// ErrNotConnected is returned for a provider without a live transport.
	ErrNotConnected = errors.New("tool provider not connected")
	// ErrClosed is returned by a transport after Close or process exit.
	ErrClosed = errors.New("tool provider transport closed")
)

// Capability is one invokable operation exposed by a provider.
type Capability struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Dialer opens an MCP client for a provider. The returned client must be
// started but not yet initialized.
type Dialer func(ctx context.Context, cfg settings.ToolProviderConfig) (*client.Client, error)

// Dial is the production Dialer. It dispatches on the closed set of
// transport kinds.
func Dial(ctx context.Context, cfg settings.ToolProviderConfig) (*client.Client, error) {
	switch cfg.Kind {
	case settings.TransportStdio:
		return dialStdio(cfg)
	case settings.TransportStream:
		return dialStream(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// Transport owns exactly one connection to one tool provider. The mutex
// guards state only; calls on the MCP client run concurrently.
type Transport struct {
	cfg  settings.ToolProviderConfig
	dial Dialer

	mu       sync.Mutex
	client   *client.Client
	closed   bool
	cached   []Capability
	hasCache bool
}

func NewTransport(cfg settings.ToolProviderConfig, dial Dialer) *Transport {
	if dial == nil {
		dial = Dial
	}
	return &Transport{cfg: cfg, dial: dial}
}

func (t *Transport) ID() string   { return t.cfg.ID }
func (t *Transport) Name() string { return t.cfg.Name }

// Connect opens the connection and performs the MCP handshake. A failed
// handshake tears the connection down again.
func (t *Transport) Connect(ctx context.Context) error {
	c, err := t.dial(ctx, t.cfg)
	if err != nil {
		return fmt.Errorf("failed to open transport for %s: %w", t.cfg.ID, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: version.AppName, Version: version.Version}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return fmt.Errorf("handshake with %s failed: %w", t.cfg.ID, err)
	}

	t.mu.Lock()
	t.client = c
	t.closed = false
	t.mu.Unlock()

	if t.cfg.Kind == settings.TransportStdio {
		go t.watchStderr(c)
	}
	return nil
}

// Connected reports whether the transport has a live connection.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil && !t.closed
}

func (t *Transport) live() (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if t.client == nil {
		return nil, ErrNotConnected
	}
	return t.client, nil
}

// ListCapabilities returns the provider's tools. With caching enabled the
// first successful list is kept for the transport's lifetime unless
// forceRefresh is set. Failures yield an empty list.
func (t *Transport) ListCapabilities(ctx context.Context, forceRefresh bool) []Capability {
	t.mu.Lock()
	if t.cfg.CacheCapabilities && t.hasCache && !forceRefresh {
		caps := t.cached
		t.mu.Unlock()
		return caps
	}
	t.mu.Unlock()

	c, err := t.live()
	if err != nil {
		log.Printf("WARNING: Cannot list capabilities of %s: %v", t.cfg.ID, err)
		return nil
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		log.Printf("WARNING: Listing capabilities of %s failed: %v", t.cfg.ID, err)
		return nil
	}

	caps := make([]Capability, 0, len(res.Tools))
	for _, tool := range res.Tools {
		caps = append(caps, Capability{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: inputSchemaOf(tool),
		})
	}

	if t.cfg.CacheCapabilities {
		t.mu.Lock()
		t.cached = caps
		t.hasCache = true
		t.mu.Unlock()
	}
	return caps
}

// inputSchemaOf returns the tool's input schema as the wire carries it,
// whether the provider declared it structurally or as raw JSON.
func inputSchemaOf(tool mcp.Tool) json.RawMessage {
	data, err := json.Marshal(tool)
	if err != nil {
		return nil
	}
	var wire struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil
	}
	return wire.InputSchema
}

// Invoke calls one capability and returns its text output. A provider-side
// tool error is returned as an error; neither closes the transport.
func (t *Transport) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	c, err := t.live()
	if err != nil {
		return "", err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call to %s on %s failed: %w", name, t.cfg.ID, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// contentText flattens a tool result into text. Non-text parts are
// rendered as their JSON form.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			data, err := json.Marshal(v)
			if err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Close shuts the connection down. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	c := t.client
	alreadyClosed := t.closed
	t.closed = true
	t.client = nil
	t.mu.Unlock()
	if c == nil || alreadyClosed {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close transport %s: %w", t.cfg.ID, err)
	}
	return nil
}

// markExited records that the peer went away without Close being called.
func (t *Transport) markExited(c *client.Client) {
	t.mu.Lock()
	if t.client != c || t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.client = nil
	t.mu.Unlock()
	log.Printf("⚠️ Tool provider %s exited.", t.cfg.ID)
	_ = c.Close()
}
