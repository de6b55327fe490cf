package llm

import (
	"context"

	"github.com/dileep-u-k/agent-gateway/internal/tools"
)

// =================================================================================
// Core Data Structures
// =================================================================================

// Role represents the originator of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single message in a conversation history.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []*tools.ToolCall `json:"tool_calls,omitempty"`
}

// Usage is the token accounting reported by a backend. Backends that do not
// report counts leave it zeroed.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage report, e.g. across the turns of a tool loop.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// GenerationConfig holds the parameters that control one generation call.
type GenerationConfig struct {
	// Model is the backend-specific model id (e.g., "gpt-4o", "gemini-1.5-pro").
	Model string
	// Temperature uses a pointer to distinguish 0.0 from unset.
	Temperature *float32
	MaxTokens   int
	TopP        *float32
}

// GenerationResult holds the complete, non-streamed output from an LLM call.
type GenerationResult struct {
	Content string
	// ToolCalls is a slice because models can request several tools in parallel.
	ToolCalls []*tools.ToolCall
	Usage     Usage
}

// StreamingResult holds one chunk of a streamed response.
type StreamingResult struct {
	ContentDelta string
	// ToolCallChunk carries a piece of a tool call. Chunks with the same
	// ToolCallIndex belong to the same call; the first one carries ID and name.
	ToolCallChunk *tools.ToolCall
	ToolCallIndex int
	// Usage is typically sent with the last chunk.
	Usage *Usage
	Err   error
}

// =================================================================================
// LLM Client Interface
// =================================================================================

// LLMClient is the callable model handle every backend implements.
type LLMClient interface {
	// Generate performs a blocking request and returns the complete result.
	Generate(
		ctx context.Context,
		messages []Message,
		config *GenerationConfig,
		availableTools []tools.Tool,
	) (*GenerationResult, error)

	// GenerateStream performs a streaming request. The channel is closed when
	// the stream ends or ctx is cancelled.
	GenerateStream(
		ctx context.Context,
		messages []Message,
		config *GenerationConfig,
		availableTools []tools.Tool,
	) (<-chan *StreamingResult, error)
}

// ModelLister is implemented by backends that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// TokenCounter is implemented by backends that can count prompt tokens natively.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)
}
