// Package settings holds the persisted configuration of the gateway and the
// stores it can live in. The document is YAML regardless of backend.
package settings

import (
	"log"
	"strings"

	"github.com/google/uuid"
)

// DefaultPort is used when the document does not carry a valid port.
const DefaultPort = 8080

// ToolEventMode selects how tool activity is rendered into streamed chunks.
type ToolEventMode string

const (
	// ToolEventsAnnotate writes "[Tool Call]" / "[Tool Complete]" lines into delta.content.
	ToolEventsAnnotate ToolEventMode = "annotate"
	// ToolEventsStructured emits delta.tool_calls chunks and skips tool results.
	ToolEventsStructured ToolEventMode = "structured"
)

// TransportKind is the closed set of tool-provider transports.
type TransportKind string

const (
	TransportStdio  TransportKind = "stdio"
	TransportStream TransportKind = "stream"
)

// ProviderKind is the closed set of model backends.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
	ProviderMistral   ProviderKind = "mistral"
)

// Settings is the whole persisted document.
type Settings struct {
	DeviceID        string                `yaml:"device_id"`
	ControlDeviceID string                `yaml:"control_device_id,omitempty"`
	Port            int                   `yaml:"port"`
	ToolEventMode   ToolEventMode         `yaml:"tool_event_mode,omitempty"`
	ModelProviders  []ModelProviderConfig `yaml:"model_providers,omitempty"`
	ToolProviders   []ToolProviderConfig  `yaml:"tool_providers,omitempty"`
	Agents          []AgentConfig         `yaml:"agents,omitempty"`
}

// ModelProviderConfig describes one model backend. An empty APIKey falls
// back to the environment key for its kind.
type ModelProviderConfig struct {
	ID      string       `yaml:"id"`
	Name    string       `yaml:"name,omitempty"`
	Kind    ProviderKind `yaml:"kind"`
	BaseURL string       `yaml:"base_url,omitempty"`
	APIKey  string       `yaml:"api_key,omitempty"`
	Models  []string     `yaml:"models,omitempty"`
}

// ToolProviderConfig describes one external tool provider.
type ToolProviderConfig struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Enabled           bool              `yaml:"enabled"`
	Kind              TransportKind     `yaml:"kind"`
	Command           string            `yaml:"command,omitempty"`
	Args              []string          `yaml:"args,omitempty"`
	Env               map[string]string `yaml:"env,omitempty"`
	URL               string            `yaml:"url,omitempty"`
	CacheCapabilities bool              `yaml:"cache_capabilities"`
}

// ToolServerSelection binds an agent to a tool provider. An empty
// AllowedTools list means every capability of the provider.
type ToolServerSelection struct {
	ProviderID   string   `yaml:"provider_id"`
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
}

// CustomTool is an agent-local tool backed by an HTTP endpoint.
type CustomTool struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Parameters  string            `yaml:"parameters,omitempty"`
	Endpoint    string            `yaml:"endpoint"`
	Method      string            `yaml:"method,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// AgentConfig is one configured agent. Name doubles as the model id clients
// send in chat-completion requests.
type AgentConfig struct {
	ID              string                `yaml:"id"`
	Name            string                `yaml:"name"`
	Enabled         bool                  `yaml:"enabled"`
	Instructions    string                `yaml:"instructions,omitempty"`
	ModelProviderID string                `yaml:"model_provider_id"`
	ModelID         string                `yaml:"model_id"`
	BuiltinTools    map[string]bool       `yaml:"builtin_tools,omitempty"`
	ToolServers     []ToolServerSelection `yaml:"tool_servers,omitempty"`
	CustomTools     []CustomTool          `yaml:"custom_tools,omitempty"`
}

// Default returns an empty document with defaults applied.
func Default() *Settings {
	return &Settings{Port: DefaultPort, ToolEventMode: ToolEventsAnnotate}
}

// Validate normalizes the document in place. Missing ids are generated and
// invalid or duplicate entries are dropped with a warning. It reports
// whether anything changed that should be written back.
func (s *Settings) Validate() bool {
	changed := false
	if s.DeviceID == "" {
		s.DeviceID = uuid.NewString()
		changed = true
	}
	if s.Port <= 0 || s.Port > 65535 {
		if s.Port != 0 {
			log.Printf("WARNING: Invalid port %d in settings, using %d.", s.Port, DefaultPort)
		}
		s.Port = DefaultPort
		changed = true
	}
	switch s.ToolEventMode {
	case ToolEventsAnnotate, ToolEventsStructured:
	default:
		if s.ToolEventMode != "" {
			log.Printf("WARNING: Unknown tool_event_mode %q, using %q.", s.ToolEventMode, ToolEventsAnnotate)
		}
		s.ToolEventMode = ToolEventsAnnotate
		changed = true
	}

	seen := make(map[string]bool)
	models := s.ModelProviders[:0]
	for _, p := range s.ModelProviders {
		if p.ID == "" {
			p.ID = uuid.NewString()
			changed = true
		}
		switch p.Kind {
		case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderMistral:
		default:
			log.Printf("WARNING: Dropping model provider %q: unknown kind %q.", p.ID, p.Kind)
			changed = true
			continue
		}
		if seen[p.ID] {
			log.Printf("WARNING: Dropping duplicate model provider id %q.", p.ID)
			changed = true
			continue
		}
		seen[p.ID] = true
		models = append(models, p)
	}
	s.ModelProviders = models

	seen = make(map[string]bool)
	servers := s.ToolProviders[:0]
	for _, p := range s.ToolProviders {
		if p.ID == "" {
			p.ID = uuid.NewString()
			changed = true
		}
		if reason := p.invalid(); reason != "" {
			log.Printf("WARNING: Dropping tool provider %q: %s.", p.ID, reason)
			changed = true
			continue
		}
		if seen[p.ID] {
			log.Printf("WARNING: Dropping duplicate tool provider id %q.", p.ID)
			changed = true
			continue
		}
		seen[p.ID] = true
		servers = append(servers, p)
	}
	s.ToolProviders = servers

	seen = make(map[string]bool)
	names := make(map[string]bool)
	agents := s.Agents[:0]
	for _, a := range s.Agents {
		if a.ID == "" {
			a.ID = uuid.NewString()
			changed = true
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			log.Printf("WARNING: Dropping agent %q: empty name.", a.ID)
			changed = true
			continue
		}
		if seen[a.ID] || names[name] {
			log.Printf("WARNING: Dropping duplicate agent %q (%s).", name, a.ID)
			changed = true
			continue
		}
		if name != a.Name {
			a.Name = name
			changed = true
		}
		seen[a.ID] = true
		names[name] = true
		agents = append(agents, a)
	}
	s.Agents = agents
	return changed
}

func (p ToolProviderConfig) invalid() string {
	switch p.Kind {
	case TransportStdio:
		if strings.TrimSpace(p.Command) == "" {
			return "stdio provider without command"
		}
	case TransportStream:
		if strings.TrimSpace(p.URL) == "" {
			return "stream provider without url"
		}
	default:
		return "unknown transport kind " + string(p.Kind)
	}
	return ""
}

// ToolProvider returns the tool provider with the given id.
func (s *Settings) ToolProvider(id string) (ToolProviderConfig, bool) {
	for _, p := range s.ToolProviders {
		if p.ID == id {
			return p, true
		}
	}
	return ToolProviderConfig{}, false
}

// RequiredModelProviders returns the ids of providers used by enabled agents.
func (s *Settings) RequiredModelProviders() map[string]bool {
	required := make(map[string]bool)
	for _, a := range s.Agents {
		if a.Enabled && a.ModelProviderID != "" {
			required[a.ModelProviderID] = true
		}
	}
	return required
}

// CanControl reports whether this device may run the gateway.
func (s *Settings) CanControl() bool {
	return s.ControlDeviceID == "" || s.ControlDeviceID == s.DeviceID
}
