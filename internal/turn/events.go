// Package turn executes one user turn: authorization filtering, model
// calls, concurrent capability invocations, and the ordered progress
// stream the connection handler forwards to the client.
package turn

import "time"

// Type identifies the type of a progress event.
type Type string

// Turn lifecycle events.
const (
	// TypeTurnStarted records that a turn began processing.
	TypeTurnStarted Type = "turn_started"
	// TypeWarning records a capability dropped while validating the turn.
	TypeWarning Type = "warning"
)

// Step events.
const (
	// TypeModelCall records a completion request sent to the model.
	TypeModelCall Type = "model_call"
	// TypeInvocationRequested records one capability invocation being dispatched.
	TypeInvocationRequested Type = "invocation_requested"
	// TypeInvocationResolved records one capability invocation reaching a
	// terminal state.
	TypeInvocationResolved Type = "invocation_resolved"
	// TypeStepComplete records a model-call plus invocation cycle finishing.
	TypeStepComplete Type = "step_complete"
)

// Terminal events. Every non-cancelled turn ends with exactly one.
const (
	// TypeFinalAnswer records the model's final text for the turn.
	TypeFinalAnswer Type = "final_answer"
	// TypeStepLimit records an agent turn stopping at its step bound.
	TypeStepLimit Type = "step_limit"
	// TypeError records a turn failing before reaching a final answer.
	TypeError Type = "error"
)

// Terminal reports whether events of this type end their turn's stream.
func (t Type) Terminal() bool {
	switch t {
	case TypeFinalAnswer, TypeStepLimit, TypeError:
		return true
	}
	return false
}

// InvocationStatus identifies the terminal state of one invocation.
type InvocationStatus string

const (
	// InvocationSucceeded indicates the capability returned a usable result.
	InvocationSucceeded InvocationStatus = "succeeded"
	// InvocationFailed indicates the invocation errored, timed out, or the
	// capability reported a failure.
	InvocationFailed InvocationStatus = "failed"
)

// Event is one progress update emitted while a turn runs.
type Event struct {
	// Type identifies the kind of update.
	Type Type `json:"update_type"`
	// TurnID is the turn this event belongs to.
	TurnID string `json:"turn_id"`
	// Seq is the event sequence number within the turn (starts at 1).
	Seq uint64 `json:"seq"`
	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
	// Payload holds data specific to the event type.
	Payload any `json:"payload,omitempty"`
}
