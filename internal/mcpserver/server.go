// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes scroll tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/seal"
)

// Server wraps the MCP server with scroll tools.
type Server struct {
	mcp    *server.MCPServer
	target ns.Namespace
}

// New creates a new MCP server with all scroll tools registered.
func New(target ns.Namespace) *Server {
	s := &Server{target: target}

	s.mcp = server.NewMCPServer(
		"nine-s",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_scroll",
		mcp.WithDescription("Read the scroll at a path, including its metadata."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Scroll path (e.g. /notes/today)")),
	), s.readScroll)

	s.mcp.AddTool(mcp.NewTool("write_scroll",
		mcp.WithDescription("Write a scroll at a path. Data MUST be a JSON object. "+
			"Read the format first via the get_scroll_format tool or the "+
			"nine-s://scroll-format resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Scroll path (e.g. /notes/today)")),
		mcp.WithString("data", mcp.Required(), mcp.Description("JSON object with the scroll data")),
	), s.writeScroll)

	s.mcp.AddTool(mcp.NewTool("list_scrolls",
		mcp.WithDescription("List all scroll paths under a prefix."),
		mcp.WithString("prefix", mcp.Description("Optional path prefix (defaults to /)")),
	), s.listScrolls)

	s.mcp.AddTool(mcp.NewTool("seal_scroll",
		mcp.WithDescription("Seal the scroll at a path into a shareable encrypted "+
			"beescroll:// URI, optionally protected by a password."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Scroll path to seal")),
		mcp.WithString("password", mcp.Description("Optional password protecting the envelope")),
	), s.sealScroll)

	s.mcp.AddTool(mcp.NewTool("get_scroll_format",
		mcp.WithDescription("Returns the canonical scroll envelope format. "+
			"Call this before writing scrolls to ensure correct structure."),
	), s.getScrollFormat)

	// Resource: scroll envelope format.
	s.mcp.AddResource(
		mcp.NewResource("nine-s://scroll-format", "Scroll Format",
			mcp.WithResourceDescription("Canonical scroll envelope every path holds."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readScrollFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readScroll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sc, err := s.target.Read(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if sc == nil {
		return mcp.NewToolResultText(fmt.Sprintf("no scroll at %s", path)), nil
	}
	out, _ := json.MarshalIndent(sc, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) writeScroll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("data is not a JSON object: %v", err)), nil
	}
	sc, err := s.target.Write(path, data)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %s version %d", sc.Key, sc.Metadata.Version)), nil
}

func (s *Server) listScrolls(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := "/"
	if p, err := req.RequireString("prefix"); err == nil && p != "" {
		prefix = p
	}
	paths, err := s.target.List(prefix)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no scrolls found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) sealScroll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	password := ""
	if p, err := req.RequireString("password"); err == nil {
		password = p
	}
	sc, err := s.target.Read(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if sc == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no scroll at %s", path)), nil
	}
	env, err := seal.Seal(sc, password)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	uri, err := env.ToURI()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(uri), nil
}

func (s *Server) getScrollFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ScrollFormatContract), nil
}

func (s *Server) readScrollFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "nine-s://scroll-format",
			MIMEType: "text/markdown",
			Text:     ScrollFormatContract,
		},
	}, nil
}
