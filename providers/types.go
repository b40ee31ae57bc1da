package providers

import "context"

// Message is one turn of a provider-facing chat conversation.
type Message struct {
	Role             string // system, user, assistant, tool
	Content          string
	Images            []string // base64 or URL image payloads attached to a user message
	ReasoningContent string   // model "thinking" content, when the provider surfaces it
	ToolCalls        []ToolCall
	ToolCallID       string // set on tool-role messages
	ToolName         string // set on tool-role messages
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]interface{}
}

// ToolDefinition describes a tool available to the model for function calling.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Response is the result of a (possibly streamed) chat completion call.
type Response struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	FinishReason     string
	Usage            Usage
}

// Usage reports token accounting for a completion, when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamChunk is one increment of a streamed chat completion.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCall
	Done      bool
	Error     error
}

// StreamCallback receives streamed chunks as they arrive.
type StreamCallback func(chunk StreamChunk)

// ChatOptions holds the resolved per-call overrides after applying ChatOptions.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// ChatOption configures a single Chat/ChatStream call.
type ChatOption func(*ChatOptions)

// WithModel overrides the model for a single call.
func WithModel(model string) ChatOption {
	return func(o *ChatOptions) { o.Model = model }
}

// WithTemperature overrides the sampling temperature for a single call.
func WithTemperature(temperature float64) ChatOption {
	return func(o *ChatOptions) { o.Temperature = temperature }
}

// WithMaxTokens overrides the output token cap for a single call.
func WithMaxTokens(maxTokens int) ChatOption {
	return func(o *ChatOptions) { o.MaxTokens = maxTokens }
}

// Provider is the minimal contract an LLM backend must satisfy.
type Provider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, options ...ChatOption) (*Response, error)
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, options ...ChatOption) (*Response, error)
	SupportsStreaming() bool
	Close() error
}

// StreamingProvider is implemented by providers that can stream chat completions.
type StreamingProvider interface {
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, callback StreamCallback, options ...ChatOption) error
}
