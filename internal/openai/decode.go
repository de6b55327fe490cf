package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dileep-u-k/agent-gateway/internal/agent"
	"github.com/dileep-u-k/agent-gateway/internal/tools"
)

// placeholders stand in for non-text content parts.
var placeholders = map[string]string{
	"image_url":   "[Image]",
	"input_audio": "[Audio]",
	"file":        "[File]",
}

// DecodeRequest parses a chat-completion body into the target agent name,
// the run input (one item per message) and the stream flag.
func DecodeRequest(body []byte) (string, []agent.Item, bool, error) {
	var req ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", nil, false, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Model) == "" {
		return "", nil, false, errors.New("request is missing 'model'")
	}
	items := make([]agent.Item, 0, len(req.Messages))
	for _, msg := range req.Messages {
		items = append(items, decodeMessage(msg))
	}
	return req.Model, items, req.Stream, nil
}

// decodeMessage maps one message. Unknown roles are treated as user input.
func decodeMessage(msg ChatMessage) agent.Item {
	text := contentText(msg.Content)
	switch msg.Role {
	case "developer", "system":
		return agent.Item{Kind: agent.KindSystem, Text: text}
	case "assistant":
		it := agent.Item{Kind: agent.KindAssistant, Text: text}
		for _, tc := range msg.ToolCalls {
			it.ToolCalls = append(it.ToolCalls, &tools.ToolCall{
				ID:       tc.ID,
				Type:     tools.ToolTypeFunction,
				Function: tools.ToolCallFunction{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
			})
		}
		if fc := msg.FunctionCall; fc != nil {
			it.ToolCalls = append(it.ToolCalls, &tools.ToolCall{
				ID:       fc.Name,
				Type:     tools.ToolTypeFunction,
				Function: tools.ToolCallFunction{Name: fc.Name, Arguments: fc.Arguments},
			})
		}
		return it
	case "tool":
		return agent.Item{Kind: agent.KindToolResult, CallID: msg.ToolCallID, Text: text}
	case "function":
		return agent.Item{Kind: agent.KindToolResult, Name: msg.Name, Text: text}
	default:
		return agent.Item{Kind: agent.KindUser, Text: text}
	}
}

// contentText flattens a message content into one text blob. Parts are
// joined with newlines; refusals are dropped.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text", "input_text":
			texts = append(texts, p.Text)
		case "refusal":
		default:
			if ph, ok := placeholders[p.Type]; ok {
				texts = append(texts, ph)
			}
		}
	}
	return strings.Join(texts, "\n")
}
