package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/dileep-u-k/agent-gateway/internal/tools"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const geminiDefaultMaxTokens = 4096

// GeminiClient is the client for interacting with Google's Gemini models.
// A GenerativeModel is derived per call, so one client serves any number of
// agents with different model ids and settings.
type GeminiClient struct {
	client *genai.Client
}

var (
	_ LLMClient    = (*GeminiClient)(nil)
	_ ModelLister  = (*GeminiClient)(nil)
	_ TokenCounter = (*GeminiClient)(nil)
)

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Close releases the underlying SDK connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Generate performs a standard, blocking request to the Gemini API.
func (c *GeminiClient) Generate(
	ctx context.Context,
	messages []Message,
	config *GenerationConfig,
	availableTools []tools.Tool,
) (*GenerationResult, error) {
	model, history, last, err := c.prepare(messages, config, availableTools)
	if err != nil {
		return nil, err
	}
	chat := model.StartChat()
	chat.History = history
	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return parseGeminiResponse(resp)
}

// GenerateStream performs a streaming request to the Gemini API.
func (c *GeminiClient) GenerateStream(
	ctx context.Context,
	messages []Message,
	config *GenerationConfig,
	availableTools []tools.Tool,
) (<-chan *StreamingResult, error) {
	model, history, last, err := c.prepare(messages, config, availableTools)
	if err != nil {
		return nil, err
	}
	chat := model.StartChat()
	chat.History = history

	outChan := make(chan *StreamingResult)
	go func() {
		defer close(outChan)
		send := func(r *StreamingResult) bool {
			select {
			case outChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		iter := chat.SendMessageStream(ctx, last.Parts...)
		callIndex := 0
		var usage *Usage
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				send(&StreamingResult{Err: fmt.Errorf("gemini stream error: %w", err)})
				return
			}
			if resp.UsageMetadata != nil {
				usage = &Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				var result *StreamingResult
				switch v := part.(type) {
				case genai.Text:
					result = &StreamingResult{ContentDelta: string(v)}
				case genai.FunctionCall:
					call, err := geminiToolCall(v, callIndex)
					if err != nil {
						log.Printf("Warning: could not marshal tool call args: %v", err)
						continue
					}
					result = &StreamingResult{ToolCallChunk: call, ToolCallIndex: callIndex}
					callIndex++
				}
				if result != nil && !send(result) {
					return
				}
			}
		}
		if usage != nil {
			send(&StreamingResult{Usage: usage})
		}
	}()
	return outChan, nil
}

// ListModels returns the model ids the API key can see, without the
// "models/" resource prefix.
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	it := c.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gemini models: %w", err)
		}
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

// CountTokens asks the API for the prompt size of a conversation.
func (c *GeminiClient) CountTokens(ctx context.Context, model string, messages []Message) (int, error) {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	if len(parts) == 0 {
		return 0, nil
	}
	resp, err := c.client.GenerativeModel(model).CountTokens(ctx, parts...)
	if err != nil {
		return 0, fmt.Errorf("gemini token count failed: %w", err)
	}
	return int(resp.TotalTokens), nil
}

// prepare builds a configured model and splits the conversation into chat
// history plus the content to send.
func (c *GeminiClient) prepare(messages []Message, config *GenerationConfig, availableTools []tools.Tool) (*genai.GenerativeModel, []*genai.Content, *genai.Content, error) {
	if config == nil || config.Model == "" {
		return nil, nil, nil, errors.New("gemini request requires a model id")
	}
	model := c.client.GenerativeModel(config.Model)
	model.SetMaxOutputTokens(geminiDefaultMaxTokens)
	if config.Temperature != nil {
		model.SetTemperature(*config.Temperature)
	}
	if config.TopP != nil {
		model.SetTopP(*config.TopP)
	}
	if config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(config.MaxTokens))
	}
	if len(availableTools) > 0 {
		model.Tools = toGeminiTools(availableTools)
	}

	system, contents := toGeminiContents(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(contents) == 0 {
		return nil, nil, nil, errors.New("gemini request has no user content")
	}
	return model, contents[:len(contents)-1], contents[len(contents)-1], nil
}

// toGeminiTools converts our internal tool definition to the Gemini SDK's format.
func toGeminiTools(toolsToConvert []tools.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(toolsToConvert))
	for _, t := range toolsToConvert {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  convertSchema(t.Function.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertSchema converts our JSONSchema to the Gemini SDK's schema type.
func convertSchema(s tools.JSONSchema) *genai.Schema {
	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	}
	if s.Items != nil {
		out.Items = convertSchema(*s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(*v)
		}
	}
	return out
}

// toGeminiContents maps the conversation to Gemini contents. System messages
// become the system instruction. Tool results need the function name, which
// is recovered from the assistant call with the same id.
func toGeminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	callNames := make(map[string]string)
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)
		case RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				}
				parts = append(parts, genai.FunctionCall{Name: tc.Function.Name, Args: args})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			name := callNames[msg.ToolCallID]
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.FunctionResponse{Name: name, Response: map[string]any{"content": msg.Content}}},
			})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func geminiToolCall(fc genai.FunctionCall, index int) (*tools.ToolCall, error) {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, err
	}
	return &tools.ToolCall{
		ID:   fmt.Sprintf("gemini-call-%d-%s", index, fc.Name),
		Type: tools.ToolTypeFunction,
		Function: tools.ToolCallFunction{
			Name:      fc.Name,
			Arguments: string(args),
		},
	}, nil
}

// parseGeminiResponse converts a Gemini API response into our internal GenerationResult.
func parseGeminiResponse(resp *genai.GenerateContentResponse) (*GenerationResult, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("no content returned from Gemini")
	}

	var contentBuilder strings.Builder
	var toolCalls []*tools.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			contentBuilder.WriteString(string(v))
		case genai.FunctionCall:
			call, err := geminiToolCall(v, len(toolCalls))
			if err != nil {
				log.Printf("Warning: could not marshal tool call args: %v", err)
				continue
			}
			toolCalls = append(toolCalls, call)
		}
	}

	result := &GenerationResult{
		Content:   strings.TrimSpace(contentBuilder.String()),
		ToolCalls: toolCalls,
	}
	if resp.UsageMetadata != nil {
		result.Usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.Usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.Usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}
