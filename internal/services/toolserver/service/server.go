package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// serverName identifies this capability server to MCP clients.
	serverName = "parley-toolserver"
	// serverVersion identifies the capability server version.
	serverVersion = "0.1.0"
)

// Tool modules selectable at startup.
const (
	// ModuleCalculator provides arithmetic tools.
	ModuleCalculator = "calculator"
	// ModuleFilesystem provides read-only access to a sandboxed directory.
	ModuleFilesystem = "filesystem"
	// ModuleSecure provides the credential fixture meant to run exclusively.
	ModuleSecure = "secure"
	// ModuleClock provides the current time.
	ModuleClock = "clock"
	// ModulePrompts provides reusable prompt templates.
	ModulePrompts = "prompts"
)

// AllModules lists every tool module in registration order.
func AllModules() []string {
	return []string{ModuleCalculator, ModuleFilesystem, ModuleSecure, ModuleClock, ModulePrompts}
}

// Config configures the capability server.
type Config struct {
	// Modules selects which tool modules to register. Empty selects all.
	Modules []string
	// Root is the directory the filesystem module serves. Defaults to the
	// working directory.
	Root string
	// Now supplies the clock module's time source. Defaults to time.Now.
	Now func() time.Time
}

// New builds an MCP server exposing the selected tool modules.
func New(cfg Config) (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	modules := cfg.Modules
	if len(modules) == 0 {
		modules = AllModules()
	}
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		root = "."
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	for _, module := range modules {
		switch strings.TrimSpace(module) {
		case ModuleCalculator:
			registerCalculator(server)
		case ModuleFilesystem:
			registerFilesystem(server, root)
		case ModuleSecure:
			registerSecure(server)
		case ModuleClock:
			registerClock(server, now)
		case ModulePrompts:
			registerPrompts(server)
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown tool module %q", module)
		}
	}
	return server, nil
}

// Run serves the selected modules over stdio until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	err = server.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// toolError reports a failure as tool content so the caller's model can read
// and recover from it.
func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
	}
}

// textResult wraps plain text output as tool content.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
