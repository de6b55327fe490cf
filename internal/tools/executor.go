package tools

import "context"

// ToolExecutor defines the standard interface for any tool that can be
// executed by an agent run.
//
// Built-in tools, custom HTTP tools and external provider capabilities all
// implement it, so the run loop can dispatch a model's tool call without
// knowing where the tool actually lives.
type ToolExecutor interface {
	// Definition returns the tool's schema, which is provided to the LLM.
	Definition() Tool

	// Execute runs the tool with the JSON arguments the model produced and
	// returns the text handed back to the model. A returned error becomes a
	// tool-result error; it never aborts the run by itself.
	Execute(ctx context.Context, arguments string) (string, error)
}
