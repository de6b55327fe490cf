// Package llm contains the model backends the gateway can drive (OpenAI-
// compatible, Anthropic, Gemini), the registry that turns configured providers
// into live model handles, and per-agent run statistics.
package llm

// EstimateTokens approximates the token count of a conversation at roughly
// four characters per token. Used when a backend cannot count natively.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return total / 4
}
