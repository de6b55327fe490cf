package llm

import "time"

// Shared by every backend client in this package.
const (
	defaultTimeout    = 120 * time.Second
	maxRetries        = 3
	initialRetryDelay = 2 * time.Second
)

// Default API roots per backend kind.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultMistralBaseURL   = "https://api.mistral.ai/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
)
