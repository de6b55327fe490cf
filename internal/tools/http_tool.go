package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxHTTPToolResponse caps how much of a custom tool's response body is returned.
const maxHTTPToolResponse = 64 * 1024

// HTTPToolConfig declares a custom tool that forwards its arguments to an HTTP endpoint.
type HTTPToolConfig struct {
	Name        string
	Description string
	Parameters  JSONSchema
	Endpoint    string
	Method      string
	Headers     map[string]string
}

// HTTPTool implements ToolExecutor by sending the model's JSON arguments as the
// request body and returning the response body as the tool result.
type HTTPTool struct {
	cfg        HTTPToolConfig
	httpClient *http.Client
}

var _ ToolExecutor = (*HTTPTool)(nil)

// NewHTTPTool validates the declaration. If client is nil a 30s-timeout client is used.
func NewHTTPTool(cfg HTTPToolConfig, client *http.Client) (*HTTPTool, error) {
	if cfg.Name == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("custom tool requires a name and an endpoint")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Parameters.Type == "" {
		cfg.Parameters.Type = "object"
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTool{cfg: cfg, httpClient: client}, nil
}

func (t *HTTPTool) Definition() Tool {
	return NewFunctionTool(t.cfg.Name, t.cfg.Description, t.cfg.Parameters)
}

func (t *HTTPTool) Execute(ctx context.Context, arguments string) (string, error) {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	var body io.Reader
	if t.cfg.Method != http.MethodGet {
		body = bytes.NewBufferString(arguments)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(t.cfg.Method), t.cfg.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request for %s: %w", t.cfg.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("custom tool %s request failed: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPToolResponse))
	if err != nil {
		return "", fmt.Errorf("failed to read %s response: %w", t.cfg.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("custom tool %s returned status %d: %s", t.cfg.Name, resp.StatusCode, string(data))
	}
	return string(data), nil
}
