package toolserver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/tools"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Manager owns the set of live provider transports.
type Manager struct {
	dial Dialer

	// reinitMu serializes ReinitializeAll and CloseAll.
	reinitMu sync.Mutex

	mu         sync.RWMutex
	transports map[string]*Transport

	lists singleflight.Group
}

// NewManager creates an empty manager. A nil dial uses Dial.
func NewManager(dial Dialer) *Manager {
	if dial == nil {
		dial = Dial
	}
	return &Manager{dial: dial, transports: make(map[string]*Transport)}
}

// ReinitializeAll closes every tracked transport and then connects every
// enabled provider in configs. Providers that fail to connect are logged
// and left out; they are not retried. It returns the number connected.
func (m *Manager) ReinitializeAll(ctx context.Context, configs []settings.ToolProviderConfig) int {
	m.reinitMu.Lock()
	defer m.reinitMu.Unlock()

	m.closeAllLocked()

	var mu sync.Mutex
	next := make(map[string]*Transport)
	var g errgroup.Group
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		g.Go(func() error {
			t := NewTransport(cfg, m.dial)
			if err := t.Connect(ctx); err != nil {
				log.Printf("WARNING: Tool provider %q (%s) unavailable: %v", cfg.Name, cfg.ID, err)
				return nil
			}
			mu.Lock()
			next[cfg.ID] = t
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.transports = next
	m.mu.Unlock()
	log.Printf("✅ %d tool providers connected.", len(next))
	return len(next)
}

// CloseAll closes and forgets every transport.
func (m *Manager) CloseAll() {
	m.reinitMu.Lock()
	defer m.reinitMu.Unlock()
	m.closeAllLocked()
}

func (m *Manager) closeAllLocked() {
	m.mu.Lock()
	old := m.transports
	m.transports = make(map[string]*Transport)
	m.mu.Unlock()
	for id, t := range old {
		if err := t.Close(); err != nil {
			log.Printf("Error closing tool provider %s: %v", id, err)
		}
	}
}

// GetTransport returns the live transport for a provider id.
func (m *Manager) GetTransport(id string) (*Transport, bool) {
	m.mu.RLock()
	t, ok := m.transports[id]
	m.mu.RUnlock()
	if !ok || !t.Connected() {
		return nil, false
	}
	return t, true
}

// ConnectedIDs returns the ids of providers with a live transport.
func (m *Manager) ConnectedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.transports))
	for id, t := range m.transports {
		if t.Connected() {
			ids = append(ids, id)
		}
	}
	return ids
}

// listTimeout bounds a shared capability listing.
const listTimeout = 30 * time.Second

// capabilities lists a provider's capabilities. Concurrent callers for the
// same provider share one request.
func (m *Manager) capabilities(ctx context.Context, id string) ([]Capability, error) {
	t, ok := m.GetTransport(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	v, _, _ := m.lists.Do(id, func() (any, error) {
		// Shared by every waiting caller; it outlives any one of them.
		listCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listTimeout)
		defer cancel()
		return t.ListCapabilities(listCtx, false), nil
	})
	return v.([]Capability), nil
}

// ListCapabilityNamesFor returns the capability names of one provider.
func (m *Manager) ListCapabilityNamesFor(ctx context.Context, id string) ([]string, error) {
	caps, err := m.capabilities(ctx, id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.Name)
	}
	return names, nil
}

// ResolveToolsForAgent wraps every capability the agent selected as a
// runnable tool, in selection order. Unreachable providers are skipped.
func (m *Manager) ResolveToolsForAgent(ctx context.Context, agent settings.AgentConfig) []tools.ToolExecutor {
	var out []tools.ToolExecutor
	for _, sel := range agent.ToolServers {
		t, ok := m.GetTransport(sel.ProviderID)
		if !ok {
			log.Printf("WARNING: Agent %q: tool provider %s not connected, skipping its tools.", agent.Name, sel.ProviderID)
			continue
		}
		caps, err := m.capabilities(ctx, sel.ProviderID)
		if err != nil {
			log.Printf("WARNING: Agent %q: %v", agent.Name, err)
			continue
		}
		allowed := allowSet(sel.AllowedTools)
		for _, c := range caps {
			if allowed != nil && !allowed[c.Name] {
				continue
			}
			out = append(out, newRemoteTool(t, c))
		}
	}
	return out
}

func allowSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
