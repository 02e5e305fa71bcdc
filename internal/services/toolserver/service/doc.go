// Package service runs the bundled capability server over MCP stdio.
//
// Each tool module is self-contained and selectable at startup, so one binary
// can back several gateway capability entries with different surfaces.
package service
