package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/tools"

	"github.com/google/uuid"
)

// MaxTurns bounds the model calls of one run.
const MaxTurns = 10

// ErrMaxTurns is returned when the model keeps calling tools past MaxTurns.
var ErrMaxTurns = errors.New("agent exceeded the maximum number of model turns")

// Agent is a runnable agent. It is immutable once built and shared by
// concurrent runs.
type Agent struct {
	ID           string
	Name         string
	Instructions string
	ProviderID   string
	ModelID      string
	Model        llm.LLMClient
	Tools        *tools.ToolManager
	// Counter estimates usage when the model reports none. May be nil.
	Counter      TokenCounter
}

// Run executes the agent to completion.
func (a *Agent) Run(ctx context.Context, input []Item) (*RunResult, error) {
	return a.loop(ctx, input, nil)
}

// RunStream executes the agent in the background and delivers events over a
// bounded channel. Cancelling ctx stops the run.
func (a *Agent) RunStream(ctx context.Context, input []Item) *Stream {
	s := &Stream{
		events: make(chan Event, StreamBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: Agent %q run panicked: %v", a.Name, r)
				s.err = fmt.Errorf("agent run panicked: %v", r)
			}
		}()
		emit := func(ev Event) bool {
			select {
			case s.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		s.result, s.err = a.loop(ctx, input, emit)
	}()
	return s
}

// loop is the model/tool cycle. A nil emit selects blocking generation;
// otherwise the model is streamed and every step is emitted.
func (a *Agent) loop(ctx context.Context, input []Item, emit func(Event) bool) (*RunResult, error) {
	if a.Model == nil {
		return nil, fmt.Errorf("agent %q has no model", a.Name)
	}
	msgs := toMessages(a.Instructions, input)
	var defs []tools.Tool
	if a.Tools != nil {
		defs = a.Tools.GetDefinitions()
	}
	cfg := &llm.GenerationConfig{Model: a.ModelID}
	result := &RunResult{}

	for turn := 0; turn < MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var gen *llm.GenerationResult
		var err error
		if emit == nil {
			gen, err = a.Model.Generate(ctx, msgs, cfg, defs)
		} else {
			gen, err = a.generateStream(ctx, msgs, cfg, defs, emit)
		}
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		result.Usage.Add(a.usageOf(ctx, msgs, gen))

		if gen.Content != "" || len(gen.ToolCalls) == 0 {
			result.Items = append(result.Items, Item{Kind: KindAssistant, Text: gen.Content})
		}
		if len(gen.ToolCalls) == 0 {
			return result, nil
		}

		for _, call := range gen.ToolCalls {
			if call.ID == "" {
				call.ID = "call_" + uuid.NewString()
			}
			if call.Type == "" {
				call.Type = tools.ToolTypeFunction
			}
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: gen.Content, ToolCalls: gen.ToolCalls})

		for _, call := range gen.ToolCalls {
			name, args := call.Function.Name, call.Function.Arguments
			result.Items = append(result.Items, Item{Kind: KindToolCall, CallID: call.ID, Name: name, Arguments: args})
			if emit != nil && !emit(Event{Kind: EventToolCalled, CallID: call.ID, ToolName: name, Arguments: args}) {
				return nil, ctx.Err()
			}

			output, isErr := a.executeTool(ctx, name, args)
			result.Items = append(result.Items, Item{Kind: KindToolResult, CallID: call.ID, Name: name, Text: output, IsError: isErr})
			if emit != nil && !emit(Event{Kind: EventToolOutput, CallID: call.ID, ToolName: name, Output: output, IsError: isErr}) {
				return nil, ctx.Err()
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: output, ToolCallID: call.ID})
		}
	}
	return nil, ErrMaxTurns
}

// usageOf returns the turn's reported usage, or counts it when the backend
// reported nothing.
func (a *Agent) usageOf(ctx context.Context, prompt []llm.Message, gen *llm.GenerationResult) llm.Usage {
	u := gen.Usage
	if u.PromptTokens != 0 || u.CompletionTokens != 0 || a.Counter == nil {
		return u
	}
	u.PromptTokens = a.Counter.CountTokens(ctx, a.ProviderID, a.ModelID, prompt)
	u.CompletionTokens = llm.EstimateTokens([]llm.Message{{Role: llm.RoleAssistant, Content: gen.Content, ToolCalls: gen.ToolCalls}})
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// executeTool runs one tool call. Failures become the tool's output so the
// model can react to them.
func (a *Agent) executeTool(ctx context.Context, name, args string) (string, bool) {
	if a.Tools == nil {
		return fmt.Sprintf("Error executing tool %s: no tools available", name), true
	}
	out, err := a.Tools.Execute(ctx, name, args)
	if err != nil {
		log.Printf("WARNING: Agent %q tool %s failed: %v", a.Name, name, err)
		return fmt.Sprintf("Error executing tool %s: %v", name, err), true
	}
	return out, false
}

// generateStream streams one model turn, emitting text as it arrives and
// assembling tool-call fragments by index.
func (a *Agent) generateStream(ctx context.Context, msgs []llm.Message, cfg *llm.GenerationConfig, defs []tools.Tool, emit func(Event) bool) (*llm.GenerationResult, error) {
	chunks, err := a.Model.GenerateStream(ctx, msgs, cfg, defs)
	if err != nil {
		return nil, err
	}
	gen := &llm.GenerationResult{}
	calls := make(map[int]*tools.ToolCall)
	var text []byte
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Usage != nil {
			gen.Usage = *chunk.Usage
		}
		if chunk.ContentDelta != "" {
			text = append(text, chunk.ContentDelta...)
			if !emit(Event{Kind: EventTextDelta, Delta: chunk.ContentDelta}) {
				return nil, ctx.Err()
			}
		}
		if tc := chunk.ToolCallChunk; tc != nil {
			acc, ok := calls[chunk.ToolCallIndex]
			if !ok {
				acc = &tools.ToolCall{Type: tools.ToolTypeFunction}
				calls[chunk.ToolCallIndex] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexes := make([]int, 0, len(calls))
	for i := range calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		gen.ToolCalls = append(gen.ToolCalls, calls[i])
	}
	gen.Content = string(text)
	return gen, nil
}
