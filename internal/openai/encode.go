package openai

import (
	"fmt"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/agent"
	"github.com/dileep-u-k/agent-gateway/internal/settings"

	"github.com/google/uuid"
)

// FinishStop is the only finish reason the gateway reports.
const FinishStop = "stop"

// NewCompletionID returns a fresh "chatcmpl-" identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// EncodeResult renders a finished run as a chat.completion. The text is the
// last assistant item; usage totals are recomputed from their parts.
func EncodeResult(res *agent.RunResult, model string) ChatCompletion {
	var text string
	var usage Usage
	if res != nil {
		text = res.FinalOutput()
		usage.PromptTokens = res.Usage.PromptTokens
		usage.CompletionTokens = res.Usage.CompletionTokens
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return ChatCompletion{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      ResponseMessage{Role: "assistant", Content: text},
			FinishReason: FinishStop,
		}},
		Usage: usage,
	}
}

// ChunkEncoder renders the events of one streaming run. All chunks share
// its id and creation time.
type ChunkEncoder struct {
	ID      string
	Created int64
	Model   string
	Mode    settings.ToolEventMode

	toolIndex int
	finished  bool
}

func NewChunkEncoder(model string, mode settings.ToolEventMode) *ChunkEncoder {
	return &ChunkEncoder{
		ID:      NewCompletionID(),
		Created: time.Now().Unix(),
		Model:   model,
		Mode:    mode,
	}
}

// Encode maps an event to a chunk. The boolean is false for events that
// produce no visible output.
func (e *ChunkEncoder) Encode(ev agent.Event) (*ChatCompletionChunk, bool) {
	switch ev.Kind {
	case agent.EventTextDelta:
		if ev.Delta == "" {
			return nil, false
		}
		return e.chunk(Delta{Content: ev.Delta}, nil), true
	case agent.EventToolCalled:
		if e.Mode == settings.ToolEventsStructured {
			call := ChunkToolCall{
				Index:    e.toolIndex,
				ID:       ev.CallID,
				Type:     "function",
				Function: FunctionCall{Name: ev.ToolName, Arguments: ev.Arguments},
			}
			e.toolIndex++
			return e.chunk(Delta{ToolCalls: []ChunkToolCall{call}}, nil), true
		}
		return e.chunk(Delta{Content: fmt.Sprintf("\n[Tool Call]: %s\n", ev.ToolName)}, nil), true
	case agent.EventToolOutput:
		if e.Mode == settings.ToolEventsStructured {
			return nil, false
		}
		return e.chunk(Delta{Content: fmt.Sprintf("\n[Tool Complete]: %s\n", ev.ToolName)}, nil), true
	default:
		return nil, false
	}
}

// Final returns the terminal chunk: empty delta, finish_reason "stop". It
// returns false if the terminal chunk was already produced.
func (e *ChunkEncoder) Final() (*ChatCompletionChunk, bool) {
	if e.finished {
		return nil, false
	}
	e.finished = true
	reason := FinishStop
	return e.chunk(Delta{}, &reason), true
}

func (e *ChunkEncoder) chunk(d Delta, finish *string) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:      e.ID,
		Object:  "chat.completion.chunk",
		Created: e.Created,
		Model:   e.Model,
		Choices: []ChunkChoice{{Index: 0, Delta: d, FinishReason: finish}},
	}
}

// ModelsFor lists agent names as model records.
func ModelsFor(names []string, created int64) ModelList {
	list := ModelList{Object: "list", Data: make([]Model, 0, len(names))}
	for _, name := range names {
		list.Data = append(list.Data, Model{
			ID:         name,
			Object:     "model",
			Created:    created,
			OwnedBy:    "agent-gateway",
			Permission: []any{},
			Root:       name,
		})
	}
	return list
}
