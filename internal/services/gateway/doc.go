// Package gateway brokers live conversations between connected users, the
// language model, and the capability servers.
//
// It keeps WebSocket lifecycle, frame validation, and event forwarding
// isolated from turn execution so the orchestrator remains the only writer
// of session state.
package gateway
