// Package errors provides structured error handling with machine-readable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Protocol errors (malformed inbound traffic)
	CodeProtocolInvalidFrame    Code = "PROTOCOL_INVALID_FRAME"
	CodeProtocolInvalidTurn     Code = "PROTOCOL_INVALID_TURN"
	CodeProtocolPayloadTooLarge Code = "PROTOCOL_PAYLOAD_TOO_LARGE"
	CodeProtocolRateLimited     Code = "PROTOCOL_RATE_LIMITED"

	// Turn errors
	CodeTurnEmptyContent    Code = "TURN_EMPTY_CONTENT"
	CodeTurnInvalidMaxSteps Code = "TURN_INVALID_MAX_STEPS"
	CodeTurnAlreadyActive   Code = "TURN_ALREADY_ACTIVE"

	// Model call errors
	CodeModelCallFailed  Code = "MODEL_CALL_FAILED"
	CodeModelCallTimeout Code = "MODEL_CALL_TIMEOUT"

	// Invocation errors
	CodeInvocationTimeout    Code = "INVOCATION_TIMEOUT"
	CodeInvocationFailed     Code = "INVOCATION_FAILED"
	CodeInvocationUnknownKey Code = "INVOCATION_UNKNOWN_KEY"

	// Capability registry errors
	CodeCapabilityConfigInvalid     Code = "CAPABILITY_CONFIG_INVALID"
	CodeCapabilityServerUnavailable Code = "CAPABILITY_SERVER_UNAVAILABLE"
	CodeCapabilityUnknownServer     Code = "CAPABILITY_UNKNOWN_SERVER"
	CodeCapabilityUnknownPrompt     Code = "CAPABILITY_UNKNOWN_PROMPT"

	// Authorization errors
	CodeAuthorizationDenied Code = "AUTHORIZATION_DENIED"
	CodeIdentityInvalid     Code = "IDENTITY_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// WireCode maps domain codes to the error codes the realtime transport emits.
func (c Code) WireCode() string {
	switch c {
	case CodeProtocolInvalidFrame,
		CodeProtocolInvalidTurn,
		CodeProtocolPayloadTooLarge,
		CodeTurnEmptyContent,
		CodeTurnInvalidMaxSteps,
		CodeInvocationUnknownKey:
		return "INVALID_ARGUMENT"

	case CodeProtocolRateLimited:
		return "RESOURCE_EXHAUSTED"

	case CodeAuthorizationDenied,
		CodeIdentityInvalid:
		return "FORBIDDEN"

	case CodeTurnAlreadyActive:
		return "FAILED_PRECONDITION"

	case CodeModelCallTimeout,
		CodeInvocationTimeout:
		return "DEADLINE_EXCEEDED"

	case CodeModelCallFailed,
		CodeInvocationFailed,
		CodeCapabilityServerUnavailable,
		CodeCapabilityUnknownServer,
		CodeCapabilityUnknownPrompt:
		return "UNAVAILABLE"

	case CodeNotFound:
		return "NOT_FOUND"

	default:
		return "INTERNAL"
	}
}
