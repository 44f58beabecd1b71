package harnessports

import "context"

// PromptMessage is one chat message. Role is user or assistant; the system
// prompt travels in PromptInput.System.
type PromptMessage struct {
	Role    string
	Content string
}

// PromptInput is a fully assembled request for one pipeline stage.
type PromptInput struct {
	System   string
	Messages []PromptMessage // windowed history followed by the current question
	Context  []string        // retrieved snippets, already packed to budget
	Tools    []ToolSpec      // declared only for the routing stage
	Meta     map[string]string
}

// Options tunes a single completion. Zero values defer to the provider
// configuration.
type Options struct {
	MaxNewTokens   int
	Temperature    float32
	TopP           float32
	Seed           int
	Stop           []string
	ToolChoice     string // auto | none | a tool name
	ResponseFormat string // "" or json_object
	TimeoutMs      int    // per call, on top of the request deadline
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is either answer text or the tool calls the model requested.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Raw       any
	Usage     *Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}
