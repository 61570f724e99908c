package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all detection tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("mevguard", version)
	h := NewHandlers(NewAPIClient(cfg))

	s.AddTool(ToolSimulateTransaction, h.HandleSimulateTransaction)
	s.AddTool(ToolStartDetection, h.HandleStartDetection)
	s.AddTool(ToolStopDetection, h.HandleStopDetection)
	s.AddTool(ToolDetectionStatus, h.HandleDetectionStatus)
	s.AddTool(ToolListSessions, h.HandleListSessions)
	s.AddTool(ToolSendPrivateTransaction, h.HandleSendPrivateTransaction)

	return s
}
