package toolserver

import (
	"bufio"
	"fmt"
	"log"
	"sort"

	"github.com/dileep-u-k/agent-gateway/internal/settings"

	"github.com/mark3labs/mcp-go/client"
)

// dialStdio spawns the provider process. The mcp-go stdio client starts the
// process itself, so no Start call follows.
func dialStdio(cfg settings.ToolProviderConfig) (*client.Client, error) {
	c, err := client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", cfg.Command, err)
	}
	return c, nil
}

// envList renders the env map as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// watchStderr relays the child's stderr to the log. EOF on stderr means the
// process is gone, which closes the transport.
func (t *Transport) watchStderr(c *client.Client) {
	stderr, ok := client.GetStderr(c)
	if !ok {
		return
	}
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Printf("[%s] %s", t.cfg.ID, scanner.Text())
	}
	t.markExited(c)
}
