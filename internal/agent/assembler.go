package agent

import (
	"context"
	"errors"
	"log"

	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/settings"
	"github.com/dileep-u-k/agent-gateway/internal/tools"
)

// ModelSource supplies live model clients by provider id.
type ModelSource interface {
	Model(providerID string) (llm.LLMClient, bool)
}

// TokenCounter counts prompt tokens for a provider's model. A ModelSource
// that also implements it fills in usage for backends that report none.
type TokenCounter interface {
	CountTokens(ctx context.Context, providerID, model string, messages []llm.Message) int
}

// ToolResolver supplies the external tools an agent selected.
type ToolResolver interface {
	ResolveToolsForAgent(ctx context.Context, agent settings.AgentConfig) []tools.ToolExecutor
}

// BuildRunnableAgents turns agent configurations into runnable agents.
// Disabled agents are skipped, as are agents whose model provider has no
// live client. Tools are registered built-ins first (in toggle order), then
// custom tools, then external tools; a duplicate name keeps the first.
func BuildRunnableAgents(ctx context.Context, cfgs []settings.AgentConfig, models ModelSource, resolver ToolResolver, deps tools.BuiltinDeps) []*Agent {
	counter, _ := models.(TokenCounter)
	var out []*Agent
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		model, ok := models.Model(cfg.ModelProviderID)
		if !ok {
			log.Printf("WARNING: Agent %q skipped: model provider %q has no live model.", cfg.Name, cfg.ModelProviderID)
			continue
		}

		manager := tools.NewToolManager()
		register := func(t tools.ToolExecutor) {
			if err := manager.Register(t); err != nil {
				if errors.Is(err, tools.ErrDuplicateTool) {
					log.Printf("WARNING: Agent %q: %v (first registration kept).", cfg.Name, err)
					return
				}
				log.Printf("WARNING: Agent %q: cannot register tool: %v", cfg.Name, err)
			}
		}

		for _, name := range tools.BuiltinNames {
			if !cfg.BuiltinTools[name] {
				continue
			}
			t, err := tools.NewBuiltin(name, deps)
			if err != nil {
				log.Printf("WARNING: Agent %q: built-in tool %s unavailable: %v", cfg.Name, name, err)
				continue
			}
			register(t)
		}
		for _, ct := range cfg.CustomTools {
			params, err := tools.ParseJSONSchema([]byte(ct.Parameters))
			if err != nil {
				log.Printf("WARNING: Agent %q: custom tool %s has invalid parameters: %v", cfg.Name, ct.Name, err)
				continue
			}
			t, err := tools.NewHTTPTool(tools.HTTPToolConfig{
				Name:        ct.Name,
				Description: ct.Description,
				Parameters:  params,
				Endpoint:    ct.Endpoint,
				Method:      ct.Method,
				Headers:     ct.Headers,
			}, nil)
			if err != nil {
				log.Printf("WARNING: Agent %q: custom tool %s skipped: %v", cfg.Name, ct.Name, err)
				continue
			}
			register(t)
		}
		if resolver != nil {
			for _, t := range resolver.ResolveToolsForAgent(ctx, cfg) {
				register(t)
			}
		}

		out = append(out, &Agent{
			ID:           cfg.ID,
			Name:         cfg.Name,
			Instructions: cfg.Instructions,
			ProviderID:   cfg.ModelProviderID,
			ModelID:      cfg.ModelID,
			Model:        model,
			Tools:        manager,
			Counter:      counter,
		})
		log.Printf("✅ Agent %q ready with %d tools.", cfg.Name, manager.ToolCount())
	}
	return out
}

// Set is an immutable, ordered collection of runnable agents.
type Set struct {
	list   []*Agent
	byName map[string]*Agent
}

// NewSet indexes agents by name. On a name clash the first agent wins.
func NewSet(agents []*Agent) *Set {
	s := &Set{byName: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		if _, dup := s.byName[a.Name]; dup {
			continue
		}
		s.byName[a.Name] = a
		s.list = append(s.list, a)
	}
	return s
}

// Get returns the agent with the given name.
func (s *Set) Get(name string) (*Agent, bool) {
	if s == nil {
		return nil, false
	}
	a, ok := s.byName[name]
	return a, ok
}

// Names returns agent names in configuration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.list))
	for _, a := range s.list {
		names = append(names, a.Name)
	}
	return names
}

// Agents returns the agents in configuration order.
func (s *Set) Agents() []*Agent {
	if s == nil {
		return nil
	}
	return append([]*Agent(nil), s.list...)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.list)
}
