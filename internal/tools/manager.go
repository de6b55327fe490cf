package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrDuplicateTool is returned by Register when a tool with the same name is
// already registered. The first registration always wins.
var ErrDuplicateTool = errors.New("duplicate tool name")

// ToolManager holds the ordered tool set of one agent.
type ToolManager struct {
	order []string
	tools map[string]ToolExecutor
}

func NewToolManager() *ToolManager {
	return &ToolManager{
		tools: make(map[string]ToolExecutor),
	}
}

// Register adds a tool to the set. Registering a name twice is rejected with
// ErrDuplicateTool and leaves the earlier tool in place.
func (tm *ToolManager) Register(tool ToolExecutor) error {
	name := tool.Definition().Function.Name
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if _, exists := tm.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	tm.tools[name] = tool
	tm.order = append(tm.order, name)
	return nil
}

// GetDefinitions returns the definitions of all registered tools in registration order.
func (tm *ToolManager) GetDefinitions() []Tool {
	defs := make([]Tool, 0, len(tm.order))
	for _, name := range tm.order {
		defs = append(defs, tm.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (tm *ToolManager) Names() []string {
	return append([]string(nil), tm.order...)
}

// Execute runs a tool by name with the given arguments.
func (tm *ToolManager) Execute(ctx context.Context, name, arguments string) (string, error) {
	tool, ok := tm.tools[name]
	if !ok {
		return "", fmt.Errorf("tool '%s' not found", name)
	}
	return tool.Execute(ctx, arguments)
}

// ToolCount returns the number of registered tools.
func (tm *ToolManager) ToolCount() int {
	return len(tm.order)
}
