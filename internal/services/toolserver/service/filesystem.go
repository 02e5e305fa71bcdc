package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxFileBytes caps read_file output so one tool result cannot flood the
// model's context.
const maxFileBytes = 256 * 1024

type listDirInput struct {
	Path string `json:"path,omitempty" jsonschema:"directory path relative to the served root"`
}

type listDirResult struct {
	Entries []string `json:"entries" jsonschema:"entry names, directories end with a slash"`
}

type readFileInput struct {
	Path string `json:"path" jsonschema:"file path relative to the served root"`
}

type readFileResult struct {
	Content string `json:"content" jsonschema:"file content"`
}

// registerFilesystem adds read-only tools over one sandboxed directory.
func registerFilesystem(server *mcp.Server, root string) {
	sandbox := filesystemSandbox{root: root}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_dir",
		Description: "List the entries of a directory under the served root.",
	}, sandbox.listDir)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "read_file",
		Description: "Read a text file under the served root.",
	}, sandbox.readFile)
}

type filesystemSandbox struct {
	root string
}

// resolve maps a requested path into the served root. Cleaning the path as
// absolute first strips any traversal segments, so the join cannot escape.
func (s filesystemSandbox) resolve(path string) string {
	return filepath.Join(s.root, filepath.Clean("/"+path))
}

func (s filesystemSandbox) listDir(_ context.Context, _ *mcp.CallToolRequest, input listDirInput) (*mcp.CallToolResult, listDirResult, error) {
	target := s.resolve(input.Path)
	entries, err := os.ReadDir(target)
	if err != nil {
		return toolError(fmt.Sprintf("list directory: %v", err)), listDirResult{}, nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return textResult(strings.Join(names, "\n")), listDirResult{Entries: names}, nil
}

func (s filesystemSandbox) readFile(_ context.Context, _ *mcp.CallToolRequest, input readFileInput) (*mcp.CallToolResult, readFileResult, error) {
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), readFileResult{}, nil
	}

	target := s.resolve(input.Path)
	info, err := os.Stat(target)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), readFileResult{}, nil
	}
	if info.IsDir() {
		return toolError(fmt.Sprintf("read file: %s is a directory", input.Path)), readFileResult{}, nil
	}
	if info.Size() > maxFileBytes {
		return toolError(fmt.Sprintf("read file: %s exceeds %d bytes", input.Path, maxFileBytes)), readFileResult{}, nil
	}

	content, err := os.ReadFile(target)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), readFileResult{}, nil
	}
	return textResult(string(content)), readFileResult{Content: string(content)}, nil
}
