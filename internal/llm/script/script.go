// Package script implements a language-model provider driven by a Lua
// script. Scripts define a respond(request) function that returns the
// model's text and any operation requests, which makes conversations fully
// deterministic: useful for local development without a model endpoint and
// for scenario tests that need scripted multi-step behavior.
//
// The request table carries: model, content (latest user text), step (count
// of prior assistant replies), require_tools, messages (array of
// {role, content}), and tools (array of advertised operation names). The
// response table carries: text (string) and calls (array of
// {name, args}); args may be a JSON string or a Lua table.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/parleyhq/parley/internal/llm"
)

// Provider runs a Lua script to produce completions. A single Lua state
// backs all calls, so scripts may keep globals between steps; the state is
// guarded by a mutex because Lua states are not goroutine-safe.
type Provider struct {
	mu    sync.Mutex
	state *lua.State
	calls int
}

// Load compiles and runs the script at path, then validates that it defined
// a respond function.
func Load(path string) (*Provider, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	return finishLoad(state)
}

// LoadString compiles and runs an inline script. Used by tests and by
// configurations that embed the script body directly.
func LoadString(source string) (*Provider, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)

	if err := lua.LoadString(state, source); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	return finishLoad(state)
}

func finishLoad(state *lua.State) (*Provider, error) {
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run script: %w", err)
	}

	state.Global("respond")
	defined := state.TypeOf(-1) == lua.TypeFunction
	state.Pop(1)
	if !defined {
		return nil, errors.New("script must define respond(request)")
	}

	return &Provider{state: state}, nil
}

// Complete calls the script's respond function with the request and converts
// its return table to a response.
func (provider *Provider) Complete(ctx context.Context, request llm.Request) (*llm.Response, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := provider.state
	state.Global("respond")
	pushRequest(state, request)
	if err := state.ProtectedCall(1, 1, 0); err != nil {
		return nil, fmt.Errorf("run respond: %w", err)
	}
	defer state.Pop(1)

	if state.TypeOf(-1) != lua.TypeTable {
		return nil, errors.New("respond must return a table")
	}

	response := &llm.Response{
		Model:      request.Model,
		StopReason: llm.StopReasonEndTurn,
	}

	resultIndex := state.AbsIndex(-1)

	state.Field(resultIndex, "text")
	if text, ok := state.ToString(-1); ok {
		response.Text = text
	}
	state.Pop(1)

	state.Field(resultIndex, "calls")
	if state.TypeOf(-1) == lua.TypeTable {
		response.ToolCalls = provider.readCalls(state)
	}
	state.Pop(1)

	if len(response.ToolCalls) > 0 {
		response.StopReason = llm.StopReasonToolUse
	}
	return response, nil
}

// pushRequest builds the Lua request table on top of the stack.
func pushRequest(state *lua.State, request llm.Request) {
	state.NewTable()

	state.PushString(request.Model)
	state.SetField(-2, "model")

	state.PushBoolean(request.RequireToolUse)
	state.SetField(-2, "require_tools")

	content := ""
	step := 0
	for _, message := range request.Messages {
		switch message.Role {
		case llm.RoleUser:
			content = message.Content
		case llm.RoleAssistant:
			step++
		}
	}
	state.PushString(content)
	state.SetField(-2, "content")
	state.PushInteger(step)
	state.SetField(-2, "step")

	state.NewTable()
	for i, message := range request.Messages {
		state.NewTable()
		state.PushString(string(message.Role))
		state.SetField(-2, "role")
		state.PushString(message.Content)
		state.SetField(-2, "content")
		state.RawSetInt(-2, i+1)
	}
	state.SetField(-2, "messages")

	state.NewTable()
	for i, tool := range request.Tools {
		state.PushString(tool.Name)
		state.RawSetInt(-2, i+1)
	}
	state.SetField(-2, "tools")
}

// readCalls converts the calls array (top of stack) to tool calls, in array
// order so dispatch order matches what the script wrote.
func (provider *Provider) readCalls(state *lua.State) []llm.ToolCall {
	tableIndex := state.AbsIndex(-1)
	length := state.RawLength(tableIndex)

	var calls []llm.ToolCall
	for i := 1; i <= length; i++ {
		state.RawGetInt(tableIndex, i)
		if state.TypeOf(-1) != lua.TypeTable {
			state.Pop(1)
			continue
		}
		entryIndex := state.AbsIndex(-1)

		state.Field(entryIndex, "name")
		name, _ := state.ToString(-1)
		state.Pop(1)

		state.Field(entryIndex, "args")
		args := argumentsToJSON(state)
		state.Pop(1)

		state.Pop(1)

		if name == "" {
			continue
		}
		provider.calls++
		calls = append(calls, llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", provider.calls),
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

// argumentsToJSON reads the value on top of the stack as invocation
// arguments without popping it.
func argumentsToJSON(state *lua.State) json.RawMessage {
	switch state.TypeOf(-1) {
	case lua.TypeString:
		value, _ := state.ToString(-1)
		if json.Valid([]byte(value)) {
			return json.RawMessage(value)
		}
		return json.RawMessage("{}")
	case lua.TypeTable:
		converted := tableToGo(state, -1)
		data, err := json.Marshal(converted)
		if err != nil {
			return json.RawMessage("{}")
		}
		return data
	default:
		return json.RawMessage("{}")
	}
}

// tableToGo converts a Lua table to a Go map, recursing into nested tables.
// Number keys are skipped; scripts pass named arguments.
func tableToGo(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	index = state.AbsIndex(index)

	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		if value == float64(int64(value)) {
			return int64(value)
		}
		return value
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}
