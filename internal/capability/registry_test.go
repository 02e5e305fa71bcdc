package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	apperrors "github.com/parleyhq/parley/internal/platform/errors"
)

type addInput struct {
	A float64 `json:"a" jsonschema:"first addend"`
	B float64 `json:"b" jsonschema:"second addend"`
}

type addOutput struct {
	Sum float64 `json:"sum" jsonschema:"sum of the addends"`
}

// newCalculatorServer builds an in-memory capability server with add, fail,
// and slow tools.
func newCalculatorServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "calculator", Version: "test"}, nil)

	mcp.AddTool(server, &mcp.Tool{Name: "add", Description: "Add two numbers."},
		func(_ context.Context, _ *mcp.CallToolRequest, input addInput) (*mcp.CallToolResult, addOutput, error) {
			sum := input.A + input.B
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%g", sum)}},
			}, addOutput{Sum: sum}, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "Always reports a tool error."},
		func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "division by zero"}},
			}, nil, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "slow", Description: "Waits before answering."},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "done"}},
			}, nil, nil
		})

	return server
}

// newNotesServer builds an in-memory capability server with one tool and one
// prompt.
func newNotesServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "notes", Version: "test"}, nil)

	mcp.AddTool(server, &mcp.Tool{Name: "list_entries", Description: "List note entries."},
		func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "groceries\nerrands"}},
			}, nil, nil
		})

	server.AddPrompt(&mcp.Prompt{Name: "summarize", Description: "Summarize briefly."},
		func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Messages: []*mcp.PromptMessage{
					{Role: "user", Content: &mcp.TextContent{Text: "Summarize the conversation."}},
					{Role: "user", Content: &mcp.TextContent{Text: "Keep it under three sentences."}},
				},
			}, nil
		})

	return server
}

// memoryTransport routes registry connections to in-memory test servers by
// name. Names without a backing server fail to connect.
func memoryTransport(ctx context.Context, servers map[string]*mcp.Server) TransportFunc {
	return func(_ context.Context, server ServerConfig) (mcp.Transport, error) {
		impl, ok := servers[server.Name]
		if !ok {
			return nil, fmt.Errorf("no test server %q", server.Name)
		}
		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		go func() {
			_ = impl.Run(ctx, serverTransport)
		}()
		return clientTransport, nil
	}
}

// testCommand is a placeholder argv for configs whose transport is in-memory.
var testCommand = []string{"parley-toolserver"}

// openTestRegistry opens a registry against in-memory servers and closes it
// with the test.
func openTestRegistry(t *testing.T, config Config, servers map[string]*mcp.Server) *Registry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry, err := Open(ctx, config, Options{
		Transport: memoryTransport(ctx, servers),
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() {
		if err := registry.Close(); err != nil {
			t.Errorf("close registry: %v", err)
		}
	})
	return registry
}

// twoServerConfig pairs the calculator and notes fixtures.
func twoServerConfig() Config {
	return Config{Servers: []ServerConfig{
		{Name: "calculator", Command: testCommand},
		{Name: "notes", Command: testCommand},
	}}
}

func twoFixtureServers() map[string]*mcp.Server {
	return map[string]*mcp.Server{
		"calculator": newCalculatorServer(),
		"notes":      newNotesServer(),
	}
}

// TestOpenDiscoversServers ensures tools and prompts are indexed under
// namespaced keys in configuration order.
func TestOpenDiscoversServers(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	descriptors := registry.Servers()
	if len(descriptors) != 2 {
		t.Fatalf("servers = %d, want 2", len(descriptors))
	}
	if descriptors[0].Name != "calculator" || descriptors[1].Name != "notes" {
		t.Fatalf("unexpected server order: %s, %s", descriptors[0].Name, descriptors[1].Name)
	}
	if len(descriptors[0].Operations) != 3 {
		t.Errorf("calculator operations = %d, want 3", len(descriptors[0].Operations))
	}
	if len(descriptors[0].Prompts) != 0 {
		t.Errorf("calculator prompts = %d, want 0", len(descriptors[0].Prompts))
	}
	if len(descriptors[1].Prompts) != 1 {
		t.Errorf("notes prompts = %d, want 1", len(descriptors[1].Prompts))
	}

	operation, ok := registry.OperationByKey("calculator_add")
	if !ok {
		t.Fatal("expected calculator_add operation")
	}
	if operation.Server != "calculator" || operation.Tool != "add" {
		t.Errorf("unexpected operation: %+v", operation)
	}
	if len(operation.InputSchema) == 0 {
		t.Error("expected input schema")
	}
	var schema map[string]any
	if err := json.Unmarshal(operation.InputSchema, &schema); err != nil {
		t.Fatalf("input schema is not JSON: %v", err)
	}

	prompt, ok := registry.PromptByKey("notes_summarize")
	if !ok {
		t.Fatal("expected notes_summarize prompt")
	}
	if prompt.Server != "notes" || prompt.Name != "summarize" {
		t.Errorf("unexpected prompt: %+v", prompt)
	}
}

// TestOpenSkipsUnreachableServers ensures discovery failures drop a server
// without failing the registry.
func TestOpenSkipsUnreachableServers(t *testing.T) {
	config := Config{Servers: []ServerConfig{
		{Name: "calculator", Command: testCommand},
		{Name: "ghost", Command: testCommand},
	}}
	registry := openTestRegistry(t, config, map[string]*mcp.Server{
		"calculator": newCalculatorServer(),
	})

	descriptors := registry.Servers()
	if len(descriptors) != 1 {
		t.Fatalf("servers = %d, want 1", len(descriptors))
	}
	if descriptors[0].Name != "calculator" {
		t.Fatalf("server = %q, want calculator", descriptors[0].Name)
	}
	if _, ok := registry.ServerForKey("ghost_anything"); ok {
		t.Error("ghost server should not resolve keys")
	}
}

// TestOpenFailsWhenNoServersReachable ensures a fully-unreachable config is
// an error.
func TestOpenFailsWhenNoServersReachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := Config{Servers: []ServerConfig{{Name: "ghost", Command: testCommand}}}
	_, err := Open(ctx, config, Options{
		Transport: memoryTransport(ctx, nil),
		Logger:    log.New(io.Discard, "", 0),
	})
	if err == nil {
		t.Fatal("expected error when no server is reachable")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeCapabilityServerUnavailable {
		t.Fatalf("error code = %q, want %q", code, apperrors.CodeCapabilityServerUnavailable)
	}
}

// TestOpenAcceptsEmptyConfig ensures a gateway can run with no capability
// servers configured.
func TestOpenAcceptsEmptyConfig(t *testing.T) {
	registry := openTestRegistry(t, Config{}, nil)

	if got := registry.Servers(); len(got) != 0 {
		t.Fatalf("servers = %d, want 0", len(got))
	}
	if got := registry.AuthorizedServers([]string{"admins"}); len(got) != 0 {
		t.Fatalf("authorized servers = %d, want 0", len(got))
	}
}

// TestInvokeReturnsToolResult ensures invocation routes to the owning server
// and returns flattened content.
func TestInvokeReturnsToolResult(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	result, err := registry.Invoke(context.Background(), "calculator_add", json.RawMessage(`{"a": 2, "b": 3}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.IsError {
		t.Fatal("expected success result")
	}
	if result.Content != "5" {
		t.Fatalf("content = %q, want %q", result.Content, "5")
	}
}

// TestInvokeToolErrorIsResult ensures tool-reported errors surface as error
// results, not Go errors.
func TestInvokeToolErrorIsResult(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	result, err := registry.Invoke(context.Background(), "calculator_fail", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Content, "division by zero") {
		t.Fatalf("content = %q, want division by zero", result.Content)
	}
}

// TestInvokeUnknownKey ensures unregistered keys are rejected with a typed
// error.
func TestInvokeUnknownKey(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	_, err := registry.Invoke(context.Background(), "calculator_subtract", nil)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeInvocationUnknownKey {
		t.Fatalf("error code = %q, want %q", code, apperrors.CodeInvocationUnknownKey)
	}
}

// TestInvokeTimeout ensures slow tools are cut off by the per-server timeout.
func TestInvokeTimeout(t *testing.T) {
	config := Config{Servers: []ServerConfig{
		{Name: "calculator", Command: testCommand, Timeout: "100ms"},
	}}
	registry := openTestRegistry(t, config, map[string]*mcp.Server{
		"calculator": newCalculatorServer(),
	})

	start := time.Now()
	_, err := registry.Invoke(context.Background(), "calculator_slow", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeInvocationTimeout {
		t.Fatalf("error code = %q, want %q", code, apperrors.CodeInvocationTimeout)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("invoke took %s, want well under the tool's 2s sleep", elapsed)
	}
}

// TestInvokeRejectsNonObjectArguments ensures malformed arguments fail before
// reaching the server.
func TestInvokeRejectsNonObjectArguments(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	_, err := registry.Invoke(context.Background(), "calculator_add", json.RawMessage(`[1, 2]`))
	if err == nil {
		t.Fatal("expected error for non-object arguments")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeInvocationFailed {
		t.Fatalf("error code = %q, want %q", code, apperrors.CodeInvocationFailed)
	}
}

// TestGetPromptFlattensMessages ensures prompt messages join into one block.
func TestGetPromptFlattensMessages(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	text, err := registry.GetPrompt(context.Background(), "notes_summarize", nil)
	if err != nil {
		t.Fatalf("get prompt: %v", err)
	}
	want := "Summarize the conversation.\n\nKeep it under three sentences."
	if text != want {
		t.Fatalf("prompt = %q, want %q", text, want)
	}
}

// TestGetPromptUnknownKey ensures unregistered prompt keys are rejected.
func TestGetPromptUnknownKey(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	_, err := registry.GetPrompt(context.Background(), "notes_brainstorm", nil)
	if err == nil {
		t.Fatal("expected error for unknown prompt")
	}
	if code := apperrors.CodeOf(err); code != apperrors.CodeCapabilityUnknownPrompt {
		t.Fatalf("error code = %q, want %q", code, apperrors.CodeCapabilityUnknownPrompt)
	}
}

// TestAuthorizedServersFiltersByGroup ensures group restrictions gate server
// visibility.
func TestAuthorizedServersFiltersByGroup(t *testing.T) {
	config := Config{Servers: []ServerConfig{
		{Name: "calculator", Command: testCommand},
		{Name: "notes", Command: testCommand, Groups: []string{"staff"}, Exclusive: true},
	}}
	registry := openTestRegistry(t, config, twoFixtureServers())

	public := registry.AuthorizedServers(nil)
	if len(public) != 1 || public[0].Name != "calculator" {
		t.Fatalf("unexpected public servers: %+v", public)
	}

	staff := registry.AuthorizedServers([]string{"staff", "other"})
	if len(staff) != 2 {
		t.Fatalf("staff servers = %d, want 2", len(staff))
	}

	if registry.IsExclusive("calculator") {
		t.Error("calculator should not be exclusive")
	}
	if !registry.IsExclusive("notes") {
		t.Error("notes should be exclusive")
	}
	if registry.IsExclusive("ghost") {
		t.Error("unknown server should not be exclusive")
	}
}

// TestOperationsPreservesServerOrder ensures the flattened operation list
// follows the requested server order.
func TestOperationsPreservesServerOrder(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	operations := registry.Operations([]string{"notes", "calculator", "ghost"})
	if len(operations) != 4 {
		t.Fatalf("operations = %d, want 4", len(operations))
	}
	if operations[0].Key != "notes_list_entries" {
		t.Fatalf("first operation = %q, want notes_list_entries", operations[0].Key)
	}
	if operations[1].Server != "calculator" {
		t.Fatalf("second operation server = %q, want calculator", operations[1].Server)
	}
}

// TestRefreshKeepsLiveServers ensures refresh re-discovers over live
// sessions without dropping them.
func TestRefreshKeepsLiveServers(t *testing.T) {
	registry := openTestRegistry(t, twoServerConfig(), twoFixtureServers())

	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := len(registry.Servers()); got != 2 {
		t.Fatalf("servers after refresh = %d, want 2", got)
	}
	if _, ok := registry.OperationByKey("calculator_add"); !ok {
		t.Fatal("expected calculator_add after refresh")
	}
}

// TestSplitKey exercises capability key parsing.
func TestSplitKey(t *testing.T) {
	tests := []struct {
		key    string
		server string
		tool   string
		ok     bool
	}{
		{key: "calculator_add", server: "calculator", tool: "add", ok: true},
		{key: "filesystem_list_dir", server: "filesystem", tool: "list_dir", ok: true},
		{key: "plain", ok: false},
		{key: "_add", ok: false},
		{key: "calculator_", ok: false},
		{key: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			server, tool, ok := SplitKey(tt.key)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if server != tt.server || tool != tt.tool {
				t.Fatalf("split = (%q, %q), want (%q, %q)", server, tool, tt.server, tt.tool)
			}
		})
	}
}
