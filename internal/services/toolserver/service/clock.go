package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type nowInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"IANA timezone name, defaults to UTC"`
}

type nowResult struct {
	Time string `json:"time" jsonschema:"current time in RFC 3339 format"`
}

// registerClock adds the time tool backed by the injected clock.
func registerClock(server *mcp.Server, now func() time.Time) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "now",
		Description: "Report the current time, optionally in a named timezone.",
	}, clockHandler(now))
}

func clockHandler(now func() time.Time) mcp.ToolHandlerFor[nowInput, nowResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input nowInput) (*mcp.CallToolResult, nowResult, error) {
		location := time.UTC
		if name := strings.TrimSpace(input.Timezone); name != "" {
			loaded, err := time.LoadLocation(name)
			if err != nil {
				return toolError(fmt.Sprintf("unknown timezone %q", name)), nowResult{}, nil
			}
			location = loaded
		}
		formatted := now().In(location).Format(time.RFC3339)
		return textResult(formatted), nowResult{Time: formatted}, nil
	}
}
