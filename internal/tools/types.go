// Package tools defines the provider-agnostic tool model of the gateway: the
// definitions sent to a model, the calls a model sends back, and the executor
// contract every runnable tool (built-in, custom HTTP, or external provider
// capability) satisfies.
package tools

import (
	"encoding/json"
	"fmt"
)

// ToolTypeFunction is the standard type for function-based tools.
const ToolTypeFunction = "function"

// Tool defines the schema for a function that can be described to an LLM.
type Tool struct {
	// Type is almost always "function".
	Type string `json:"type"`
	// Function holds the detailed definition of the function.
	Function Function `json:"function"`
}

// Function defines the name, description, and parameters of a callable tool.
type Function struct {
	// Name is the name the model uses to call the tool (e.g., "read_file").
	Name string `json:"name"`
	// Description is what the model reads to decide when to use the tool.
	Description string `json:"description"`
	// Parameters defines the arguments the function accepts as a JSON Schema.
	Parameters JSONSchema `json:"parameters"`
}

// JSONSchema is the subset of JSON Schema the model clients understand.
// External capability schemas are decoded into it, so keywords outside this
// subset are dropped before a schema reaches a model.
type JSONSchema struct {
	// Type is the data type of the node ("object", "string", "number", ...).
	// For the top-level parameters object this is always "object".
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// ParseJSONSchema decodes a raw JSON Schema document into a JSONSchema.
// An empty document yields an empty object schema.
func ParseJSONSchema(raw []byte) (JSONSchema, error) {
	schema := JSONSchema{Type: "object"}
	if len(raw) == 0 {
		return schema, nil
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return JSONSchema{}, fmt.Errorf("failed to decode tool schema: %w", err)
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

// ToolCall represents a request *from* the LLM to execute a specific tool.
type ToolCall struct {
	// ID matches the tool's execution result back to the model's request.
	ID string `json:"id"`
	// Type is almost always "function".
	Type string `json:"type"`
	// Function contains the name and arguments for the call.
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction holds the name and arguments of a function call requested by the LLM.
type ToolCallFunction struct {
	Name string `json:"name"`
	// Arguments is a JSON string; executors unmarshal it into their own args struct.
	Arguments string `json:"arguments"`
}

// NewFunctionTool simplifies the creation of a new function Tool.
func NewFunctionTool(name, description string, parameters JSONSchema) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}
