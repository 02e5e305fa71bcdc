package turn

import "encoding/json"

// TurnStartedPayload captures the payload for turn_started events.
type TurnStartedPayload struct {
	SessionID    string   `json:"session_id"`
	Mode         string   `json:"mode"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// WarningPayload captures the payload for warning events.
type WarningPayload struct {
	Capability string `json:"capability"`
	Reason     string `json:"reason"`
}

// ModelCallPayload captures the payload for model_call events.
type ModelCallPayload struct {
	Step      int    `json:"step"`
	Model     string `json:"model,omitempty"`
	ToolCount int    `json:"tool_count"`
}

// InvocationRequestedPayload captures the payload for invocation_requested events.
type InvocationRequestedPayload struct {
	InvocationID string          `json:"invocation_id"`
	Capability   string          `json:"capability"`
	Server       string          `json:"server,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

// InvocationResolvedPayload captures the payload for invocation_resolved events.
type InvocationResolvedPayload struct {
	InvocationID string           `json:"invocation_id"`
	Capability   string           `json:"capability"`
	Status       InvocationStatus `json:"status"`
	Content      string           `json:"content,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// StepCompletePayload captures the payload for step_complete events.
type StepCompletePayload struct {
	Step        int `json:"step"`
	Invocations int `json:"invocations"`
}

// FinalAnswerPayload captures the payload for final_answer events.
type FinalAnswerPayload struct {
	Text  string `json:"text"`
	Steps int    `json:"steps"`
}

// StepLimitPayload captures the payload for step_limit events.
type StepLimitPayload struct {
	Text   string `json:"text,omitempty"`
	Steps  int    `json:"steps"`
	Notice string `json:"notice"`
}

// ErrorPayload captures the payload for error events.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
