package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerPrompts adds the reusable prompt templates.
func registerPrompts(server *mcp.Server) {
	server.AddPrompt(&mcp.Prompt{
		Name:        "summarize",
		Description: "Prime the assistant to answer with short summaries.",
		Arguments: []*mcp.PromptArgument{
			{Name: "style", Description: "Summary style, e.g. bullets or prose."},
		},
	}, summarizeHandler)

	server.AddPrompt(&mcp.Prompt{
		Name:        "brainstorm",
		Description: "Prime the assistant to generate ideas on a topic.",
		Arguments: []*mcp.PromptArgument{
			{Name: "topic", Description: "Subject to brainstorm about.", Required: true},
		},
	}, brainstormHandler)
}

func summarizeHandler(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	style := "prose"
	if req != nil && req.Params != nil {
		if value := strings.TrimSpace(req.Params.Arguments["style"]); value != "" {
			style = value
		}
	}
	return &mcp.GetPromptResult{
		Description: "Short-summary persona",
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{
					Text: fmt.Sprintf("Summarize everything you are given in %s form. Keep each summary under five sentences and never invent details.", style),
				},
			},
		},
	}, nil
}

func brainstormHandler(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := ""
	if req != nil && req.Params != nil {
		topic = strings.TrimSpace(req.Params.Arguments["topic"])
	}
	if topic == "" {
		return nil, fmt.Errorf("prompt argument %q is required", "topic")
	}
	return &mcp.GetPromptResult{
		Description: "Idea-generation persona",
		Messages: []*mcp.PromptMessage{
			{
				Role: "user",
				Content: &mcp.TextContent{
					Text: fmt.Sprintf("Generate a numbered list of distinct ideas about %s. Favor breadth over depth and flag the two most promising ideas.", topic),
				},
			},
		},
	}, nil
}
