package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	apperrors "github.com/parleyhq/parley/internal/platform/errors"
	"github.com/parleyhq/parley/internal/platform/timeouts"
)

const (
	clientName    = "parley-gateway"
	clientVersion = "dev"
)

// Key builds the capability key for a tool or prompt on a server.
func Key(server, name string) string {
	return server + "_" + name
}

// SplitKey splits a capability key into its server and tool parts. Server
// names cannot contain underscores, so the server part ends at the first one.
func SplitKey(key string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(key, "_")
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// Operation is one invocable tool discovered on a capability server.
type Operation struct {
	Key         string
	Server      string
	Tool        string
	Description string
	InputSchema json.RawMessage
}

// Prompt is one named prompt discovered on a capability server.
type Prompt struct {
	Key         string
	Server      string
	Name        string
	Description string
}

// Descriptor is the advertised surface of one reachable capability server.
type Descriptor struct {
	Name       string
	Exclusive  bool
	Groups     []string
	Operations []Operation
	Prompts    []Prompt
}

// Result is the outcome of a tool invocation. IsError marks a failure the
// capability server reported as content; those are forwarded to the model
// rather than raised as Go errors.
type Result struct {
	Content string
	IsError bool
}

// TransportFunc builds the MCP transport used to reach a configured server.
// Tests substitute in-memory transports here.
type TransportFunc func(ctx context.Context, server ServerConfig) (mcp.Transport, error)

// CommandTransport launches the server command and speaks MCP over its stdio.
func CommandTransport(ctx context.Context, server ServerConfig) (mcp.Transport, error) {
	if len(server.Command) == 0 {
		return nil, apperrors.WithMetadata(
			apperrors.CodeCapabilityConfigInvalid,
			"capability server command is required",
			map[string]string{"server": server.Name},
		)
	}
	cmd := exec.Command(server.Command[0], server.Command[1:]...)
	return &mcp.CommandTransport{Command: cmd}, nil
}

// Options carries optional registry dependencies.
type Options struct {
	// Transport builds per-server transports. Nil uses CommandTransport.
	Transport TransportFunc

	// Logger receives discovery and refresh notices. Nil uses the
	// default logger.
	Logger *log.Logger
}

// Registry holds live sessions to the reachable capability servers and
// indexes their tools and prompts by capability key.
type Registry struct {
	transport TransportFunc
	logger    *log.Logger

	mu         sync.RWMutex
	servers    []serverHandle
	byServer   map[string]int
	operations map[string]Operation
	prompts    map[string]Prompt
}

type serverHandle struct {
	config     ServerConfig
	session    *mcp.ClientSession
	descriptor Descriptor
}

// Open connects to every configured server and discovers its tools and
// prompts. Servers that fail to connect or discover are logged and skipped;
// Open fails only when servers are configured and none are usable.
func Open(ctx context.Context, config Config, opts Options) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registry := &Registry{
		transport: opts.Transport,
		logger:    opts.Logger,
	}
	if registry.transport == nil {
		registry.transport = CommandTransport
	}
	if registry.logger == nil {
		registry.logger = log.Default()
	}

	handles := make([]serverHandle, 0, len(config.Servers))
	for _, server := range config.Servers {
		handle, err := registry.connect(ctx, server)
		if err != nil {
			registry.logger.Printf("capability server %s unavailable: %v", server.Name, err)
			continue
		}
		handles = append(handles, handle)
	}
	if len(config.Servers) > 0 && len(handles) == 0 {
		return nil, apperrors.New(apperrors.CodeCapabilityServerUnavailable, "no capability servers are reachable")
	}

	registry.install(handles)
	return registry, nil
}

// connect builds a transport, establishes a session, and discovers the
// server surface within the discovery timeout.
func (r *Registry) connect(ctx context.Context, server ServerConfig) (serverHandle, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeouts.Discovery)
	defer cancel()

	transport, err := r.transport(connectCtx, server)
	if err != nil {
		return serverHandle{}, fmt.Errorf("build transport: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return serverHandle{}, fmt.Errorf("connect: %w", err)
	}

	descriptor, err := describe(connectCtx, server, session, r.logger)
	if err != nil {
		_ = session.Close()
		return serverHandle{}, err
	}

	return serverHandle{config: server, session: session, descriptor: descriptor}, nil
}

// describe lists tools and prompts over an established session. Tool listing
// failures make the server unusable; prompt listing failures leave the server
// usable without prompts.
func describe(ctx context.Context, server ServerConfig, session *mcp.ClientSession, logger *log.Logger) (Descriptor, error) {
	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		return Descriptor{}, fmt.Errorf("list tools: %w", err)
	}

	descriptor := Descriptor{
		Name:      server.Name,
		Exclusive: server.Exclusive,
		Groups:    append([]string(nil), server.Groups...),
	}
	for _, tool := range tools.Tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		descriptor.Operations = append(descriptor.Operations, Operation{
			Key:         Key(server.Name, tool.Name),
			Server:      server.Name,
			Tool:        tool.Name,
			Description: tool.Description,
			InputSchema: marshalSchema(tool.InputSchema),
		})
	}

	prompts, err := session.ListPrompts(ctx, nil)
	if err != nil {
		logger.Printf("capability server %s prompts unavailable: %v", server.Name, err)
		return descriptor, nil
	}
	for _, prompt := range prompts.Prompts {
		if prompt == nil || prompt.Name == "" {
			continue
		}
		descriptor.Prompts = append(descriptor.Prompts, Prompt{
			Key:         Key(server.Name, prompt.Name),
			Server:      server.Name,
			Name:        prompt.Name,
			Description: prompt.Description,
		})
	}
	return descriptor, nil
}

// marshalSchema flattens a tool input schema to raw JSON for the model
// request. Missing schemas become an empty object schema.
func marshalSchema(schema any) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil || len(data) == 0 || string(data) == "null" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// install swaps the active server set and rebuilds the lookup indexes.
func (r *Registry) install(handles []serverHandle) {
	byServer := make(map[string]int, len(handles))
	operations := make(map[string]Operation)
	prompts := make(map[string]Prompt)
	for i, handle := range handles {
		byServer[handle.config.Name] = i
		for _, operation := range handle.descriptor.Operations {
			operations[operation.Key] = operation
		}
		for _, prompt := range handle.descriptor.Prompts {
			prompts[prompt.Key] = prompt
		}
	}

	r.mu.Lock()
	r.servers = handles
	r.byServer = byServer
	r.operations = operations
	r.prompts = prompts
	r.mu.Unlock()
}

// Servers returns the descriptors of every usable server in configuration
// order.
func (r *Registry) Servers() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(r.servers))
	for _, handle := range r.servers {
		descriptors = append(descriptors, handle.descriptor)
	}
	return descriptors
}

// AuthorizedServers returns the descriptors the given identity groups may
// use. Servers without group restrictions are available to every identity.
func (r *Registry) AuthorizedServers(groups []string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held := make(map[string]bool, len(groups))
	for _, group := range groups {
		held[group] = true
	}

	descriptors := make([]Descriptor, 0, len(r.servers))
	for _, handle := range r.servers {
		if !authorized(handle.descriptor.Groups, held) {
			continue
		}
		descriptors = append(descriptors, handle.descriptor)
	}
	return descriptors
}

// authorized reports whether an identity holding the given groups may use a
// server restricted to required.
func authorized(required []string, held map[string]bool) bool {
	if len(required) == 0 {
		return true
	}
	for _, group := range required {
		if held[group] {
			return true
		}
	}
	return false
}

// IsExclusive reports whether the named server demands exclusivity.
func (r *Registry) IsExclusive(server string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	index, ok := r.byServer[server]
	if !ok {
		return false
	}
	return r.servers[index].descriptor.Exclusive
}

// ServerForKey returns the server owning the given capability key.
func (r *Registry) ServerForKey(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	operation, ok := r.operations[key]
	if !ok {
		return "", false
	}
	return operation.Server, true
}

// OperationByKey returns the operation registered under the given key.
func (r *Registry) OperationByKey(key string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	operation, ok := r.operations[key]
	return operation, ok
}

// PromptByKey returns the prompt registered under the given key.
func (r *Registry) PromptByKey(key string) (Prompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompt, ok := r.prompts[key]
	return prompt, ok
}

// Operations returns the operations of the named servers, preserving the
// given server order and each server's discovery order.
func (r *Registry) Operations(serverNames []string) []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var operations []Operation
	for _, name := range serverNames {
		index, ok := r.byServer[name]
		if !ok {
			continue
		}
		operations = append(operations, r.servers[index].descriptor.Operations...)
	}
	return operations
}

// Invoke calls the tool registered under key with the given JSON arguments.
// The call is bounded by the owning server's timeout; no retries are made.
func (r *Registry) Invoke(ctx context.Context, key string, arguments json.RawMessage) (Result, error) {
	r.mu.RLock()
	operation, known := r.operations[key]
	var session *mcp.ClientSession
	var timeout time.Duration
	if known {
		if index, ok := r.byServer[operation.Server]; ok {
			session = r.servers[index].session
			timeout = r.servers[index].config.CallTimeout()
		}
	}
	r.mu.RUnlock()

	if !known {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeInvocationUnknownKey,
			fmt.Sprintf("capability %q is not available", key),
			map[string]string{"capability": key},
		)
	}
	if session == nil {
		return Result{}, apperrors.WithMetadata(
			apperrors.CodeCapabilityServerUnavailable,
			fmt.Sprintf("capability server %q is not connected", operation.Server),
			map[string]string{"server": operation.Server},
		)
	}

	args := map[string]any{}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			return Result{}, apperrors.WrapWithMetadata(
				apperrors.CodeInvocationFailed,
				fmt.Sprintf("capability %q arguments are not a JSON object", key),
				map[string]string{"capability": key},
				err,
			)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: operation.Tool, Arguments: args})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return Result{}, apperrors.WrapWithMetadata(
				apperrors.CodeInvocationTimeout,
				fmt.Sprintf("capability %q timed out after %s", key, timeout),
				map[string]string{"capability": key, "server": operation.Server},
				err,
			)
		}
		return Result{}, apperrors.WrapWithMetadata(
			apperrors.CodeInvocationFailed,
			fmt.Sprintf("capability %q failed", key),
			map[string]string{"capability": key, "server": operation.Server},
			err,
		)
	}

	return Result{Content: flattenContent(result), IsError: result.IsError}, nil
}

// flattenContent renders a tool result as text for the model. Text content
// blocks are joined; structured-only results are rendered as JSON.
func flattenContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 && result.StructuredContent != nil {
		if data, err := json.Marshal(result.StructuredContent); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}

// GetPrompt fetches the prompt registered under key and flattens its
// messages into a single text block.
func (r *Registry) GetPrompt(ctx context.Context, key string, arguments map[string]string) (string, error) {
	r.mu.RLock()
	prompt, known := r.prompts[key]
	var session *mcp.ClientSession
	if known {
		if index, ok := r.byServer[prompt.Server]; ok {
			session = r.servers[index].session
		}
	}
	r.mu.RUnlock()

	if !known {
		return "", apperrors.WithMetadata(
			apperrors.CodeCapabilityUnknownPrompt,
			fmt.Sprintf("prompt %q is not available", key),
			map[string]string{"prompt": key},
		)
	}
	if session == nil {
		return "", apperrors.WithMetadata(
			apperrors.CodeCapabilityServerUnavailable,
			fmt.Sprintf("capability server %q is not connected", prompt.Server),
			map[string]string{"server": prompt.Server},
		)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.PromptFetch)
	defer cancel()

	result, err := session.GetPrompt(callCtx, &mcp.GetPromptParams{Name: prompt.Name, Arguments: arguments})
	if err != nil {
		return "", apperrors.WrapWithMetadata(
			apperrors.CodeInvocationFailed,
			fmt.Sprintf("prompt %q failed", key),
			map[string]string{"prompt": key, "server": prompt.Server},
			err,
		)
	}

	var parts []string
	for _, message := range result.Messages {
		if message == nil {
			continue
		}
		if text, ok := message.Content.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// Refresh re-discovers tools and prompts over the live sessions. Servers
// whose discovery now fails are closed and dropped.
func (r *Registry) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	current := append([]serverHandle(nil), r.servers...)
	r.mu.RUnlock()

	refreshed := make([]serverHandle, 0, len(current))
	for _, handle := range current {
		describeCtx, cancel := context.WithTimeout(ctx, timeouts.Discovery)
		descriptor, err := describe(describeCtx, handle.config, handle.session, r.logger)
		cancel()
		if err != nil {
			r.logger.Printf("capability server %s dropped on refresh: %v", handle.config.Name, err)
			_ = handle.session.Close()
			continue
		}
		handle.descriptor = descriptor
		refreshed = append(refreshed, handle)
	}

	r.install(refreshed)
	return nil
}

// Close shuts down every server session.
func (r *Registry) Close() error {
	r.mu.Lock()
	servers := r.servers
	r.servers = nil
	r.byServer = nil
	r.operations = nil
	r.prompts = nil
	r.mu.Unlock()

	var errs []error
	for _, handle := range servers {
		if err := handle.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", handle.config.Name, err))
		}
	}
	return errors.Join(errs...)
}
