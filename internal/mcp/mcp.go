// Package mcp implements the Model Context Protocol server for tripwire.
//
// It exposes guardrail evaluation, configuration validation, and the check
// catalogue as MCP tools and resources, so MCP-compatible agents can screen
// their own inputs and replies.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tripwire/internal/guard"
)

// Server wraps the MCP server around a guard engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *guard.Engine
	logger    *slog.Logger
}

// New creates and configures an MCP server with all tools, resources, and prompts.
func New(engine *guard.Engine, logger *slog.Logger, version string) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"tripwire",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `tripwire screens text against an agent's guardrail configuration.

Call tripwire_evaluate with direction "input" on user messages before acting on them,
and with direction "output" on your reply before sending it. When the result is
blocked, do not use the text; reply with the returned message instead.
Use tripwire_list_checks to see available checks and tripwire_validate to check a
configuration before relying on it.`

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: "Error: " + msg},
		},
		IsError: true,
	}
}
