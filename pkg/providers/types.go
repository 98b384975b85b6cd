package providers

// Message represents a single message in a conversation.
type Message struct {
	// Role identifies the message sender (system, user, assistant)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	// Model overrides the adapter's configured model when set.
	Model string

	// Messages is the conversation history.
	Messages []Message

	// Temperature controls sampling randomness.
	Temperature float64
}

// TokenUsage tracks token consumption reported by a backend.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the prompt
	PromptTokens int64 `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// ChatResponse is a provider-agnostic chat completion result.
type ChatResponse struct {
	// Content is the first completion's text.
	Content string

	// Model is the model that produced the completion, as reported by the backend.
	Model string

	// Usage is the reported token usage; zero if the backend omitted it.
	Usage TokenUsage

	// Cost is Usage priced with the adapter's configured rates.
	Cost float64

	// FinishReason is the backend's stop reason, if reported.
	FinishReason string
}

// Pricing is a per-1K-token price pair.
type Pricing struct {
	// InputPer1K is the price of 1000 prompt tokens.
	InputPer1K float64

	// OutputPer1K is the price of 1000 completion tokens.
	OutputPer1K float64
}

// Cost prices u.
func (p Pricing) Cost(u TokenUsage) float64 {
	return float64(u.PromptTokens)/1000*p.InputPer1K + float64(u.CompletionTokens)/1000*p.OutputPer1K
}
