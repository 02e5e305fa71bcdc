// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// Discovery caps the wait time for a capability server's tool and prompt
// listing during registry startup or refresh.
const Discovery = 10 * time.Second

// ModelCall caps a single language-model completion request.
const ModelCall = 120 * time.Second

// Invocation is the default cap for a single capability-server call when
// the server's configuration does not set its own.
const Invocation = 30 * time.Second

// PromptFetch caps resolving a prompt template from a capability server.
const PromptFetch = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
