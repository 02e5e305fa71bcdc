package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAICompatible implements Provider for the OpenAI Chat Completions wire
// format. It works against any endpoint that speaks that format (OpenAI,
// OpenRouter, Azure OpenAI, vLLM, Ollama, llama.cpp). The exact provider
// behind the URL is a deployment decision, not a code one.
type OpenAICompatible struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenAICompatible creates a provider for baseURL. The API key may be
// empty for local endpoints that do not authenticate.
func NewOpenAICompatible(baseURL, apiKey string, httpClient *http.Client) *OpenAICompatible {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAICompatible{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Complete sends one non-streaming completion request.
func (provider *OpenAICompatible) Complete(ctx context.Context, request Request) (*Response, error) {
	wireRequest := buildOpenAIRequest(request)

	body, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completion request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		provider.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat completion request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if provider.apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+provider.apiKey)
	}

	httpResponse, err := provider.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("post chat completion: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode != http.StatusOK {
		return nil, decodeOpenAIError(httpResponse)
	}

	var wireResponse openaiResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wireResponse); err != nil {
		return nil, fmt.Errorf("decode chat completion: %w", err)
	}
	return wireResponse.toResponse(), nil
}

// buildOpenAIRequest converts the provider-neutral request to the OpenAI
// wire format. The system prompt becomes the first message; tool results
// become individual role:"tool" messages.
func buildOpenAIRequest(request Request) openaiRequest {
	wireRequest := openaiRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
	}

	if request.System != "" {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{
			Role:    "system",
			Content: request.System,
		})
	}

	for _, message := range request.Messages {
		wire := openaiMessage{
			Role:       string(message.Role),
			Content:    message.Content,
			ToolCallID: message.ToolCallID,
		}
		for _, call := range message.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, openaiToolCall{
				ID:   call.ID,
				Type: "function",
				Function: openaiToolFunction{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		wireRequest.Messages = append(wireRequest.Messages, wire)
	}

	for _, tool := range request.Tools {
		wireRequest.Tools = append(wireRequest.Tools, openaiTool{
			Type: "function",
			Function: openaiToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	// tool_choice is only meaningful when tools are advertised; sending it
	// otherwise is a wire error on several compatible servers.
	if request.RequireToolUse && len(wireRequest.Tools) > 0 {
		wireRequest.ToolChoice = "required"
	}

	return wireRequest
}

// decodeOpenAIError turns a non-200 response into a *ProviderError. The body
// normally carries {"error": {"type", "message"}}; anything else is kept as
// raw text so the failure stays diagnosable.
func decodeOpenAIError(httpResponse *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(httpResponse.Body, 8192))
	if readErr != nil {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Message:    fmt.Sprintf("read error body: %v", readErr),
		}
	}

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
}

// --- OpenAI wire types ---
//
// These map directly to the Chat Completions JSON format. They stay separate
// from the public types because the wire format uses different field names
// and conventions.

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string               `json:"type"`
	Function openaiToolDefinition `json:"function"`
}

type openaiToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (wireResponse *openaiResponse) toResponse() *Response {
	response := &Response{
		Model: wireResponse.Model,
		Usage: Usage{
			InputTokens:  wireResponse.Usage.PromptTokens,
			OutputTokens: wireResponse.Usage.CompletionTokens,
		},
	}

	if len(wireResponse.Choices) == 0 {
		return response
	}

	choice := wireResponse.Choices[0]
	response.Text = choice.Message.Content
	response.StopReason = mapOpenAIFinishReason(choice.FinishReason)

	for _, toolCall := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        toolCall.ID,
			Name:      toolCall.Function.Name,
			Arguments: json.RawMessage(toolCall.Function.Arguments),
		})
	}

	return response
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopReasonEndTurn
	case "tool_calls":
		return StopReasonToolUse
	case "length":
		return StopReasonMaxTokens
	default:
		// Preserve unknown reasons (e.g., "content_filter") rather than
		// mapping them to a default.
		return StopReason(reason)
	}
}
