package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// OpenAI-compatible chat completion wire types.
type openaiRequest struct {
	Model          string                `json:"model"`
	Messages       []openaiMessage       `json:"messages"`
	Temperature    *float32              `json:"temperature,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	TopP           *float32              `json:"top_p,omitempty"`
	Seed           *int                  `json:"seed,omitempty"`
	Stop           []string              `json:"stop,omitempty"`
	Tools          []openaiTool          `json:"tools,omitempty"`
	ToolChoice     any                   `json:"tool_choice,omitempty"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiCallFunction `json:"function"`
}

type openaiCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAIProvider implements Provider against any OpenAI-compatible
// /chat/completions endpoint (OpenAI, Ollama, vLLM, LM Studio).
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
}

// NewOpenAIProvider creates a provider. baseURL is the API root, e.g.
// https://api.openai.com/v1.
func NewOpenAIProvider(baseURL, apiKey, model string, temperature float32, maxTokens int, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIProvider{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Complete sends one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	reqPayload := openaiRequest{
		Model:    p.model,
		Messages: buildMessages(in),
		Stop:     opts.Stop,
	}

	temperature := p.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	reqPayload.Temperature = &temperature
	maxTokens := p.maxTokens
	if opts.MaxNewTokens > 0 {
		maxTokens = opts.MaxNewTokens
	}
	if maxTokens > 0 {
		reqPayload.MaxTokens = &maxTokens
	}
	if opts.TopP > 0 {
		reqPayload.TopP = &opts.TopP
	}
	if opts.Seed != 0 {
		reqPayload.Seed = &opts.Seed
	}
	if opts.ResponseFormat != "" {
		reqPayload.ResponseFormat = &openaiResponseFormat{Type: opts.ResponseFormat}
	}

	for _, spec := range in.Tools {
		params := json.RawMessage(spec.JSONSchema)
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		reqPayload.Tools = append(reqPayload.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	if len(reqPayload.Tools) > 0 {
		switch opts.ToolChoice {
		case "", "auto", "none", "required":
			if opts.ToolChoice != "" {
				reqPayload.ToolChoice = opts.ToolChoice
			}
		default:
			reqPayload.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]string{"name": opts.ToolChoice},
			}
		}
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("openai: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ports.Completion{}, fmt.Errorf("openai: API returned status %d: %s", resp.StatusCode, truncate(string(bodyBytes), 512))
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return ports.Completion{}, fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return ports.Completion{}, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("openai: returned no choices")
	}

	choice := apiResp.Choices[0]
	completion := ports.Completion{
		Text: choice.Message.Content,
		Raw:  apiResp,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		completion.ToolCalls = append(completion.ToolCalls, ports.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	if apiResp.Usage != nil {
		completion.Usage = &ports.Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}

	return completion, nil
}

// buildMessages flattens the prompt into chat messages. Context blocks are
// sent as a second system message so they never mix with user text.
func buildMessages(in ports.PromptInput) []openaiMessage {
	msgs := make([]openaiMessage, 0, len(in.Messages)+2)
	if in.System != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: in.System})
	}
	if len(in.Context) > 0 {
		msgs = append(msgs, openaiMessage{Role: "system", Content: "Context:\n" + strings.Join(in.Context, "\n\n")})
	}
	for _, m := range in.Messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ ports.Provider = (*OpenAIProvider)(nil)
