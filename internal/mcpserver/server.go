// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes markpad history and share-link tools for LLM integration
// via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/markpad/internal/docservice"
)

const contractURI = "markpad://document-contract"

// Server wraps the MCP server with markpad tools.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service
}

// New creates a new MCP server with all markpad tools registered.
func New(svc *docservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"markpad",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List saved snapshots, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 20)")),
	), s.listHistory)

	s.mcp.AddTool(mcp.NewTool("search_history",
		mcp.WithDescription("Fuzzy search snapshot titles and previews."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchHistory)

	s.mcp.AddTool(mcp.NewTool("read_snapshot",
		mcp.WithDescription("Read the full content of a snapshot."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Storage key of the snapshot")),
	), s.readSnapshot)

	s.mcp.AddTool(mcp.NewTool("save_snapshot",
		mcp.WithDescription("Save a Markdown document as a new snapshot. "+
			"Read the contract first via get_document_contract or the "+contractURI+" resource."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown document")),
	), s.saveSnapshot)

	s.mcp.AddTool(mcp.NewTool("restore_snapshot",
		mcp.WithDescription("Append a new snapshot holding the content of an older one."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Storage key to restore")),
	), s.restoreSnapshot)

	s.mcp.AddTool(mcp.NewTool("rename_snapshot",
		mcp.WithDescription("Change the title shown for a snapshot."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Storage key")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.renameSnapshot)

	s.mcp.AddTool(mcp.NewTool("build_share_link",
		mcp.WithDescription("Compress a document into a self-contained share link."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown document")),
	), s.buildShareLink)

	s.mcp.AddTool(mcp.NewTool("open_share_link",
		mcp.WithDescription("Decode the document carried by a share link."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Share link")),
	), s.openShareLink)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns how markpad titles, previews and shares documents."),
	), s.getDocumentContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Document Contract",
			mcp.WithResourceDescription("How markpad derives titles and previews and what share links carry."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	entries, total := s.svc.ListHistory(ctx, limit, 0)
	return jsonResult(map[string]any{"entries": entries, "total": total}), nil
}

func (s *Server) searchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.SearchHistory(ctx, query, 20)), nil
}

func (s *Server) readSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.GetSnapshot(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
	}
	return mcp.NewToolResultText(detail.Content), nil
}

func (s *Server) saveSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, err := s.svc.SaveContent(ctx, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(meta), nil
}

func (s *Server) restoreSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, err := s.svc.RestoreSnapshot(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(meta), nil
}

func (s *Server) renameSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	meta, err := s.svc.RenameSnapshot(ctx, key, title)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(meta), nil
}

func (s *Server) buildShareLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	link, err := s.svc.BuildShareLink(ctx, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(link), nil
}

func (s *Server) openShareLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.svc.OpenShareLink(ctx, rawURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     DocumentContract,
		},
	}, nil
}
