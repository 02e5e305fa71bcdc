// Package llm defines the language-model provider boundary used by the turn
// orchestrator. A provider performs exactly one completion call per request;
// retries, timeouts beyond the per-call context, and loop decisions belong to
// the caller.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one conversation entry presented to the model.
type Message struct {
	Role    Role
	Content string
	// ToolCalls holds the operation requests an assistant message made.
	ToolCalls []ToolCall
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// ToolCall is a single operation request returned by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Tool describes one operation advertised to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request carries everything a provider needs for one completion call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
	// RequireToolUse biases the model toward requesting an operation. It is
	// advisory: providers pass it through as a tool-choice hint and a
	// toolless answer remains a valid response.
	RequireToolUse bool
}

// StopReason reports why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage reports token consumption for a completed call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the model's reply to a single completion call.
type Response struct {
	Model      string
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// Provider performs a single completion call against a language model.
type Provider interface {
	Complete(ctx context.Context, request Request) (*Response, error)
}

// ProviderError describes a failed provider call with enough structure for
// the caller to decide what to do.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider error (HTTP %d, %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether the provider rejected the call for rate limiting.
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsOverloaded reports whether the provider is temporarily overloaded.
func (e *ProviderError) IsOverloaded() bool {
	return e.StatusCode == 503 || e.StatusCode == 529
}
