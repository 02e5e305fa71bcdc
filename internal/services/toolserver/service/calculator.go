package service

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type calculatorInput struct {
	A float64 `json:"a" jsonschema:"first operand"`
	B float64 `json:"b" jsonschema:"second operand"`
}

type calculatorResult struct {
	Value float64 `json:"value" jsonschema:"operation result"`
}

// registerCalculator adds the arithmetic tools.
func registerCalculator(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "add",
		Description: "Add two numbers and return the sum.",
	}, calculatorHandler(func(a, b float64) (float64, error) {
		return a + b, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "subtract",
		Description: "Subtract the second number from the first.",
	}, calculatorHandler(func(a, b float64) (float64, error) {
		return a - b, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "multiply",
		Description: "Multiply two numbers and return the product.",
	}, calculatorHandler(func(a, b float64) (float64, error) {
		return a * b, nil
	}))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "divide",
		Description: "Divide the first number by the second.",
	}, calculatorHandler(func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	}))
}

// calculatorHandler adapts a binary operation into an MCP tool handler.
func calculatorHandler(op func(a, b float64) (float64, error)) mcp.ToolHandlerFor[calculatorInput, calculatorResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input calculatorInput) (*mcp.CallToolResult, calculatorResult, error) {
		value, err := op(input.A, input.B)
		if err != nil {
			return toolError(err.Error()), calculatorResult{}, nil
		}
		return textResult(fmt.Sprintf("%g", value)), calculatorResult{Value: value}, nil
	}
}
