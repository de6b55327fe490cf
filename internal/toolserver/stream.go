package toolserver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dileep-u-k/agent-gateway/internal/settings"

	"github.com/mark3labs/mcp-go/client"
)

// dialStream connects to a URL-based provider. Endpoints ending in /sse use
// the legacy SSE transport, everything else streamable HTTP.
func dialStream(ctx context.Context, cfg settings.ToolProviderConfig) (*client.Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider url %q: %w", cfg.URL, err)
	}

	var c *client.Client
	if strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/sse") {
		c, err = client.NewSSEMCPClient(cfg.URL)
	} else {
		c, err = client.NewStreamableHttpClient(cfg.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create stream client for %s: %w", cfg.URL, err)
	}
	// The stream outlives the dial; Close ends it.
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open stream to %s: %w", cfg.URL, err)
	}
	return c, nil
}
