package session

import (
	"encoding/json"
	"time"
)

// Role classifies who produced a history entry.
type Role string

const (
	// RoleSystem carries prompt text resolved for the turn.
	RoleSystem Role = "system"
	// RoleUser carries text the user submitted.
	RoleUser Role = "user"
	// RoleAssistant carries model output, including invocation requests.
	RoleAssistant Role = "assistant"
	// RoleTool carries the resolved result of one invocation.
	RoleTool Role = "tool"
)

// ToolCall is an invocation an assistant entry requested.
type ToolCall struct {
	ID        string
	Key       string
	Arguments json.RawMessage
}

// Entry is one message in the session history.
type Entry struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall // assistant entries that requested invocations

	// InvocationID and Capability link a tool entry back to the
	// invocation it resolves. IsError marks a capability-reported
	// failure forwarded to the model.
	InvocationID string
	Capability   string
	IsError      bool

	CreatedAt time.Time
}
