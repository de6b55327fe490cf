// Package app is the application context: it owns the settings store, the
// model registry, the tool-provider manager, the agent snapshot and the
// gateway server, and applies configuration changes to them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/agent"
	"github.com/dileep-u-k/agent-gateway/internal/gateway"
	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/tools"
	"github.com/dileep-u-k/agent-gateway/internal/toolserver"
)

// ErrReloadInProgress is returned by Reload while another reload runs.
var ErrReloadInProgress = errors.New("a settings reload is already in progress")

// ModelRegistry is the part of llm.Registry the application drives.
type ModelRegistry interface {
	agent.ModelSource
	Sync(ctx context.Context, providers []settings.ModelProviderConfig, required map[string]bool)
}

// Options configures an App. Zero values select production defaults.
type Options struct {
	Store settings.Store
	Host  string
	// PortOverride replaces the persisted port when positive.
	PortOverride    int
	ShutdownTimeout time.Duration
	RestartDelay    time.Duration

	Registry ModelRegistry
	Dialer   toolserver.Dialer
	Profiler *llm.Profiler
	Builtins tools.BuiltinDeps
}

// App is the explicit application context passed to every component.
type App struct {
	store    settings.Store
	registry ModelRegistry
	tools    *toolserver.Manager
	server   *gateway.Server
	builtins tools.BuiltinDeps
	override int

	agents atomic.Pointer[agent.Set]
	mode   atomic.Value

	// reloadMu serializes Start, Reload and Shutdown; Reload only tries it.
	reloadMu sync.Mutex
	current  *settings.Settings
}

func New(opts Options) *App {
	if opts.Registry == nil {
		opts.Registry = llm.NewRegistry()
	}
	a := &App{
		store:    opts.Store,
		registry: opts.Registry,
		tools:    toolserver.NewManager(opts.Dialer),
		builtins: opts.Builtins,
		override: opts.PortOverride,
	}
	a.agents.Store(agent.NewSet(nil))
	a.mode.Store(settings.ToolEventsAnnotate)

	handler := gateway.NewHandler(a, opts.Profiler)
	a.server = gateway.NewServer(gateway.Config{
		Host:            opts.Host,
		ShutdownTimeout: opts.ShutdownTimeout,
		RestartDelay:    opts.RestartDelay,
	}, gateway.NewEngine(handler))
	return a
}

// Agents returns the current agent snapshot.
func (a *App) Agents() *agent.Set {
	return a.agents.Load()
}

// ToolEventMode returns the configured chunk rendering mode.
func (a *App) ToolEventMode() settings.ToolEventMode {
	return a.mode.Load().(settings.ToolEventMode)
}

// Server exposes the gateway server for status reporting.
func (a *App) Server() *gateway.Server {
	return a.server
}

// ToolServers exposes the tool-provider manager.
func (a *App) ToolServers() *toolserver.Manager {
	return a.tools
}

// Settings returns the settings currently applied.
func (a *App) Settings() *settings.Settings {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()
	return a.current
}

// Start loads the settings, brings every component up and starts listening
// when this device controls the gateway. A bind failure is returned but
// leaves the rest of the application running.
func (a *App) Start(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	s, err := settings.Bootstrap(ctx, a.store)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	return a.applyAll(ctx, s)
}

// Reload re-reads the settings and applies the difference. Port, agent-set
// or provider changes rebuild everything and restart the socket; edits to
// individual agents only rebuild the agent snapshot. A stopped gateway on
// the control device is started again, which retries a failed bind.
func (a *App) Reload(ctx context.Context) error {
	if !a.reloadMu.TryLock() {
		return ErrReloadInProgress
	}
	defer a.reloadMu.Unlock()

	s, err := settings.Bootstrap(ctx, a.store)
	if err != nil {
		return fmt.Errorf("failed to reload settings: %w", err)
	}
	prev := a.current
	if prev == nil || needsRestart(prev, s, a.override) {
		log.Println("🔄 Configuration change requires a full restart.")
		return a.applyAll(ctx, s)
	}

	a.mode.Store(s.ToolEventMode)
	if !reflect.DeepEqual(prev.Agents, s.Agents) {
		log.Println("🔄 Agent settings changed, rebuilding agents.")
		a.rebuildAgents(ctx, s)
	}
	a.current = s

	if s.CanControl() && a.server.State() == gateway.StateStopped {
		log.Println("🔄 Gateway is stopped, retrying start.")
		if err := a.server.Start(); err != nil {
			log.Printf("❌ Gateway could not start: %v", err)
			return err
		}
	}
	return nil
}

// Shutdown stops the socket and releases every provider connection.
func (a *App) Shutdown(ctx context.Context) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	var err error
	if stopErr := a.server.Stop(ctx); stopErr != nil && !errors.Is(stopErr, gateway.ErrNotListening) {
		err = stopErr
	}
	a.tools.CloseAll()
	a.registry.Sync(ctx, nil, nil)
	return err
}

func (a *App) port(s *settings.Settings) int {
	if a.override > 0 {
		return a.override
	}
	return s.Port
}

// applyAll rebuilds every component from s and (re)starts the socket.
func (a *App) applyAll(ctx context.Context, s *settings.Settings) error {
	a.registry.Sync(ctx, s.ModelProviders, s.RequiredModelProviders())
	a.tools.ReinitializeAll(ctx, s.ToolProviders)
	a.mode.Store(s.ToolEventMode)
	a.rebuildAgents(ctx, s)
	a.current = s

	a.server.SetPort(a.port(s))
	if !s.CanControl() {
		log.Printf("⚠️ Device %s is not the control device (%s); gateway not started.", s.DeviceID, s.ControlDeviceID)
		if err := a.server.Stop(ctx); err != nil && !errors.Is(err, gateway.ErrNotListening) {
			return err
		}
		return nil
	}
	if err := a.server.Restart(ctx); err != nil {
		log.Printf("❌ Gateway could not start: %v", err)
		return err
	}
	return nil
}

func (a *App) rebuildAgents(ctx context.Context, s *settings.Settings) {
	built := agent.BuildRunnableAgents(ctx, s.Agents, a.registry, a.tools, a.builtins)
	a.agents.Store(agent.NewSet(built))
	log.Printf("✅ %d agents runnable.", len(built))
}

// needsRestart reports whether the change from prev to next invalidates
// bound resources: the port, the set of agents, any provider or control.
func needsRestart(prev, next *settings.Settings, override int) bool {
	if override <= 0 && prev.Port != next.Port {
		return true
	}
	if prev.CanControl() != next.CanControl() {
		return true
	}
	if !reflect.DeepEqual(agentIDs(prev), agentIDs(next)) {
		return true
	}
	if !reflect.DeepEqual(prev.ToolProviders, next.ToolProviders) {
		return true
	}
	return !reflect.DeepEqual(prev.ModelProviders, next.ModelProviders)
}

func agentIDs(s *settings.Settings) []string {
	ids := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}
