package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/obiverse/nine-s/internal/memns"
	"github.com/obiverse/nine-s/internal/ns"
)

func testServer(t *testing.T) (*Server, ns.Namespace) {
	t.Helper()
	target := memns.New()
	t.Cleanup(func() { _ = target.Close() })
	return New(target), target
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handler
	// functions are exercised directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "read_scroll":
		result, err = srv.readScroll(ctx, req)
	case "write_scroll":
		result, err = srv.writeScroll(ctx, req)
	case "list_scrolls":
		result, err = srv.listScrolls(ctx, req)
	case "seal_scroll":
		result, err = srv.sealScroll(ctx, req)
	case "get_scroll_format":
		result, err = srv.getScrollFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestWriteAndReadScroll(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "write_scroll", map[string]interface{}{
		"path": "/notes/test",
		"data": `{"title": "Test"}`,
	})
	text := resultText(r)
	if text != "wrote /notes/test version 1" {
		t.Errorf("write result = %q", text)
	}

	r = callTool(t, srv, "read_scroll", map[string]interface{}{
		"path": "/notes/test",
	})
	text = resultText(r)
	if !strings.Contains(text, `"title": "Test"`) {
		t.Errorf("read result = %q", text)
	}
}

func TestReadScrollMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_scroll", map[string]interface{}{"path": "/nope"})
	if resultText(r) != "no scroll at /nope" {
		t.Errorf("read result = %q", resultText(r))
	}
}

func TestWriteScrollRejectsBadData(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "write_scroll", map[string]interface{}{
		"path": "/bad",
		"data": "not json",
	})
	if !r.IsError {
		t.Error("expected error for malformed data")
	}
}

func TestListScrolls(t *testing.T) {
	srv, target := testServer(t)
	_, _ = target.Write("/a", map[string]any{})
	_, _ = target.Write("/b", map[string]any{})

	r := callTool(t, srv, "list_scrolls", map[string]interface{}{})
	text := resultText(r)
	if text != "/a\n/b" {
		t.Errorf("list = %q", text)
	}
}

func TestSealScrollProducesURI(t *testing.T) {
	srv, target := testServer(t)
	_, _ = target.Write("/secret", map[string]any{"msg": "hi"})

	r := callTool(t, srv, "seal_scroll", map[string]interface{}{
		"path":     "/secret",
		"password": "pw",
	})
	text := resultText(r)
	if !strings.HasPrefix(text, "beescroll://v1/") {
		t.Errorf("seal result = %q", text)
	}
}
