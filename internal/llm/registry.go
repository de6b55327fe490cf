package llm

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/dileep-u-k/agent-gateway/internal/settings"

	"golang.org/x/sync/errgroup"
)

// envKeys maps a backend kind to the environment variable holding its key.
var envKeys = map[settings.ProviderKind]string{
	settings.ProviderOpenAI:    "OPENAI_API_KEY",
	settings.ProviderAnthropic: "ANTHROPIC_API_KEY",
	settings.ProviderGemini:    "GEMINI_API_KEY",
	settings.ProviderMistral:   "MISTRAL_API_KEY",
}

type registryEntry struct {
	cfg    settings.ModelProviderConfig
	client LLMClient
}

// Registry owns the live model clients, one per configured provider that at
// least one enabled agent needs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string

	// Getenv resolves fallback API keys. Defaults to os.Getenv.
	Getenv func(string) string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry), Getenv: os.Getenv}
}

// Sync replaces the client set. Providers not in required are skipped, and a
// provider whose client cannot be built is logged and left out.
func (r *Registry) Sync(ctx context.Context, providers []settings.ModelProviderConfig, required map[string]bool) {
	next := make(map[string]*registryEntry)
	var order []string
	for _, p := range providers {
		if !required[p.ID] {
			continue
		}
		client, err := r.newClient(ctx, p)
		if err != nil {
			log.Printf("WARNING: Model provider %q unavailable: %v", p.ID, err)
			continue
		}
		next[p.ID] = &registryEntry{cfg: p, client: client}
		order = append(order, p.ID)
	}

	r.mu.Lock()
	old := r.entries
	r.entries = next
	r.order = order
	r.mu.Unlock()

	for _, e := range old {
		if c, ok := e.client.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("Error closing model client: %v", err)
			}
		}
	}
	log.Printf("✅ %d model providers ready.", len(next))
}

// newClient dispatches on the closed set of provider kinds.
func (r *Registry) newClient(ctx context.Context, p settings.ModelProviderConfig) (LLMClient, error) {
	key := p.APIKey
	if key == "" && r.Getenv != nil {
		key = r.Getenv(envKeys[p.Kind])
	}
	switch p.Kind {
	case settings.ProviderOpenAI:
		return NewOpenAIClient(key, p.BaseURL)
	case settings.ProviderMistral:
		if p.BaseURL != "" {
			return NewOpenAIClient(key, p.BaseURL)
		}
		return NewMistralClient(key)
	case settings.ProviderAnthropic:
		return NewAnthropicClient(key, p.BaseURL)
	case settings.ProviderGemini:
		return NewGeminiClient(ctx, key)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// Model returns the live client for a provider.
func (r *Registry) Model(providerID string) (LLMClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[providerID]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// ListModels returns the model ids per live provider. A configured static
// list wins over asking the backend; a backend that fails contributes none.
func (r *Registry) ListModels(ctx context.Context) map[string][]string {
	r.mu.RLock()
	entries := make([]*registryEntry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	var mu sync.Mutex
	out := make(map[string][]string, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			models := e.cfg.Models
			if len(models) == 0 {
				if lister, ok := e.client.(ModelLister); ok {
					listed, err := lister.ListModels(gctx)
					if err != nil {
						log.Printf("WARNING: Could not list models for provider %q: %v", e.cfg.ID, err)
					}
					models = listed
				}
			}
			models = append([]string(nil), models...)
			sort.Strings(models)
			mu.Lock()
			out[e.cfg.ID] = models
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// CountTokens counts prompt tokens with the backend when it can, falling
// back to the character estimate.
func (r *Registry) CountTokens(ctx context.Context, providerID, model string, messages []Message) int {
	client, ok := r.Model(providerID)
	if ok {
		if counter, ok := client.(TokenCounter); ok {
			n, err := counter.CountTokens(ctx, model, messages)
			if err == nil {
				return n
			}
			log.Printf("WARNING: Token count via provider %q failed, estimating: %v", providerID, err)
		}
	}
	return EstimateTokens(messages)
}
