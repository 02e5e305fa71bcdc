package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fixtureSecrets are canned values for exercising exclusive-server flows.
// The gateway marks this server exclusive in its capability configuration so
// no other server shares a turn with it.
var fixtureSecrets = map[string]string{
	"api_token":   "tok-5fd1c0ffee",
	"signing_key": "sk-90aa7d3e11",
}

type getSecretInput struct {
	Name string `json:"name" jsonschema:"secret name"`
}

type getSecretResult struct {
	Name  string `json:"name" jsonschema:"secret name"`
	Value string `json:"value" jsonschema:"secret value"`
}

// registerSecure adds the credential fixture tools.
func registerSecure(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_secret",
		Description: "Fetch a named secret from the secure store.",
	}, getSecret)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_secrets",
		Description: "List the names of the available secrets.",
	}, listSecrets)
}

func getSecret(_ context.Context, _ *mcp.CallToolRequest, input getSecretInput) (*mcp.CallToolResult, getSecretResult, error) {
	name := strings.TrimSpace(input.Name)
	value, ok := fixtureSecrets[name]
	if !ok {
		return toolError(fmt.Sprintf("unknown secret %q", name)), getSecretResult{}, nil
	}
	return textResult(value), getSecretResult{Name: name, Value: value}, nil
}

func listSecrets(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	names := make([]string, 0, len(fixtureSecrets))
	for name := range fixtureSecrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return textResult(strings.Join(names, "\n")), nil, nil
}
