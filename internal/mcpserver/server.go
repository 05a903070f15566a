// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes annotation tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/tree"
)

// Server wraps the MCP server with annotation tools.
type Server struct {
	mcp     *server.MCPServer
	trees   *tree.Service
	engine  *syncer.Engine
	remotes map[string]syncer.Remote
}

// New creates an MCP server with all annotation tools registered.
func New(trees *tree.Service, engine *syncer.Engine, remotes map[string]syncer.Remote) *Server {
	s := &Server{trees: trees, engine: engine, remotes: remotes}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_head",
		mcp.WithDescription("Read the current note for a target object in a namespace."),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Annotation namespace (e.g. github-comments)")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target object id (e.g. a commit hash)")),
	), s.readHead)

	s.mcp.AddTool(mcp.NewTool("note_history",
		mcp.WithDescription("List the revision history of a target's note, newest first."),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Annotation namespace")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target object id")),
	), s.noteHistory)

	s.mcp.AddTool(mcp.NewTool("append_note",
		mcp.WithDescription("Append a note revision on top of the target's current head. "+
			"The previous revision is preserved in the history chain."),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Annotation namespace")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target object id; must exist in the object store")),
		mcp.WithString("author", mcp.Required(), mcp.Description("Note author")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note text")),
	), s.appendNote)

	s.mcp.AddTool(mcp.NewTool("sync_remote",
		mcp.WithDescription("Fetch a namespace from a configured remote replica, merging divergent notes, then push local changes back."),
		mcp.WithString("remote", mcp.Required(), mcp.Description("Configured remote name")),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("Annotation namespace to sync")),
	), s.syncRemote)

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

func (s *Server) readHead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	head, err := s.trees.Head(ctx, namespace, target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if head == nil {
		return mcp.NewToolResultText(fmt.Sprintf("no note for %s in %s", target, namespace)), nil
	}
	p, err := s.trees.Payloads().Get(head.PayloadID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(p.Content)), nil
}

func (s *Server) noteHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type rev struct {
		Entry     string    `json:"entry"`
		Merge     bool      `json:"merge"`
		Origin    string    `json:"origin"`
		CreatedAt time.Time `json:"created_at"`
	}
	var revs []rev
	it := s.trees.History(namespace, target)
	for it.Next() {
		e := it.Entry()
		revs = append(revs, rev{Entry: e.ID, Merge: e.IsMerge(), Origin: e.Origin, CreatedAt: e.CreatedAt})
	}
	if err := it.Err(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(revs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) appendNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	namespace, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	author, err := req.RequireString("author")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payloadID, err := s.trees.Payloads().Put(note.Payload{
		Namespace: namespace,
		Author:    author,
		CreatedAt: time.Now().UTC(),
		Content:   []byte(content),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.trees.Append(ctx, namespace, target, payloadID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("appended: %s", e.ID)), nil
}

func (s *Server) syncRemote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("remote")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	namespace, err := req.RequireString("namespace")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	remote, ok := s.remotes[name]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown remote: %s", name)), nil
	}

	if err := s.engine.Fetch(ctx, remote, namespace); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.Push(ctx, remote, namespace); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("synced %s with %s", namespace, name)), nil
}
