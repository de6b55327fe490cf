// Package agent runs configured agents: an instruction set bound to a model
// and a tool set, driven through a model/tool loop until the model answers.
package agent

import (
	"github.com/dileep-u-k/agent-gateway/internal/llm"
	"github.com/dileep-u-k/agent-gateway/internal/tools"
)

// ItemKind tags the variants of Item.
type ItemKind string

const (
	KindSystem     ItemKind = "system"
	KindUser       ItemKind = "user"
	KindAssistant  ItemKind = "assistant"
	KindToolCall   ItemKind = "tool_call"
	KindToolResult ItemKind = "tool_result"
)

// Item is one entry of a run's input or output.
//
//   - system, user, assistant: Text carries the message. An assistant item may
//     also carry the tool calls it made earlier in the conversation.
//   - tool_call: CallID, Name and Arguments describe the invocation.
//   - tool_result: CallID (or Name for legacy function results) pairs it with
//     its call; Text is the output and IsError marks a failure.
type Item struct {
	Kind      ItemKind
	Text      string
	CallID    string
	Name      string
	Arguments string
	ToolCalls []*tools.ToolCall
	IsError   bool
}

// RunResult is the output of a finished run.
type RunResult struct {
	Items []Item
	Usage llm.Usage
}

// FinalOutput returns the text of the last assistant item.
func (r *RunResult) FinalOutput() string {
	for i := len(r.Items) - 1; i >= 0; i-- {
		if r.Items[i].Kind == KindAssistant {
			return r.Items[i].Text
		}
	}
	return ""
}

// toMessages turns run input into model messages behind the instructions.
func toMessages(instructions string, input []Item) []llm.Message {
	msgs := make([]llm.Message, 0, len(input)+1)
	if instructions != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: instructions})
	}
	for _, it := range input {
		switch it.Kind {
		case KindSystem:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: it.Text})
		case KindAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: it.Text, ToolCalls: it.ToolCalls})
		case KindToolCall:
			call := &tools.ToolCall{
				ID:       it.CallID,
				Type:     tools.ToolTypeFunction,
				Function: tools.ToolCallFunction{Name: it.Name, Arguments: it.Arguments},
			}
			if n := len(msgs); n > 0 && msgs[n-1].Role == llm.RoleAssistant {
				msgs[n-1].ToolCalls = append(msgs[n-1].ToolCalls, call)
				continue
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, ToolCalls: []*tools.ToolCall{call}})
		case KindToolResult:
			id := it.CallID
			if id == "" {
				id = it.Name
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: it.Text, ToolCallID: id})
		default:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: it.Text})
		}
	}
	return msgs
}
