// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the block graph and the generate command via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/graph"
	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/models"
	"github.com/starford/magic/internal/template"
)

const contractURI = "magic://template-contract"

// Server wraps the MCP server with block and generate tools.
type Server struct {
	mcp      *server.MCPServer
	graph    *graph.Graph
	cmd      *magic.Command
	contract string
}

// Option configures a Server.
type Option func(*templateNames)

type templateNames struct {
	alias, link string
}

// WithTemplateNames sets the tag alias and link property named in the
// template contract. Empty values keep the defaults.
func WithTemplateNames(alias, linkProp string) Option {
	return func(n *templateNames) {
		if alias != "" {
			n.alias = alias
		}
		if linkProp != "" {
			n.link = linkProp
		}
	}
}

// New creates a new MCP server with all tools registered.
func New(g *graph.Graph, cmd *magic.Command, opts ...Option) *Server {
	names := templateNames{alias: magic.DefaultTagAlias, link: template.DefaultLinkProperty}
	for _, opt := range opts {
		opt(&names)
	}
	s := &Server{graph: g, cmd: cmd, contract: TemplateContract(names.alias, names.link)}

	s.mcp = server.NewMCPServer(
		"Magic",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_block",
		mcp.WithDescription("Read a block with its text, ordered children and references."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Block id")),
	), s.readBlock)

	s.mcp.AddTool(mcp.NewTool("resolve_alias",
		mcp.WithDescription("Find the root block registered under an alias."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Alias name, e.g. Magic")),
	), s.resolveAlias)

	s.mcp.AddTool(mcp.NewTool("preview_prompt",
		mcp.WithDescription("Resolve the template of a block and return the system and user "+
			"prompts that generate would send, without calling the provider."),
		mcp.WithNumber("block_id", mcp.Description("Target block id")),
		mcp.WithNumber("cursor_block_id", mcp.Description("Block being edited, used when block_id is absent")),
	), s.previewPrompt)

	s.mcp.AddTool(mcp.NewTool("generate",
		mcp.WithDescription("Run the generate command on a block and return the generated text. "+
			"The block must be tagged with a template; read the contract via "+
			"get_template_contract or the "+contractURI+" resource."),
		mcp.WithNumber("block_id", mcp.Description("Target block id")),
		mcp.WithNumber("cursor_block_id", mcp.Description("Block being edited, used when block_id is absent")),
	), s.generate)

	s.mcp.AddTool(mcp.NewTool("get_template_contract",
		mcp.WithDescription("Returns how a block is linked to its prompt template."),
	), s.getTemplateContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Template Contract",
			mcp.WithResourceDescription("How blocks reference their prompt template."),
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

func invocation(req mcp.CallToolRequest) magic.Invocation {
	return magic.Invocation{
		BlockID:       models.BlockID(req.GetFloat("block_id", 0)),
		CursorBlockID: models.BlockID(req.GetFloat("cursor_block_id", 0)),
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	b, err := s.graph.Lookup(ctx, models.BlockID(id))
	if errors.Is(err, apperr.ErrBlockNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("block not found: %d", int64(id))), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(graph.SeedBlockOf(b))
}

func (s *Server) resolveAlias(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, ok, err := s.graph.RootIDByAlias(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("alias not found: %s", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", id)), nil
}

func (s *Server) previewPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prep, err := s.cmd.Prepare(ctx, invocation(req))
	if err != nil {
		return mcp.NewToolResultError(magic.UserMessage(err)), nil
	}
	return jsonResult(prep)
}

func (s *Server) generate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := s.cmd.Execute(ctx, invocation(req))
	if out.Err != nil {
		return mcp.NewToolResultError(out.Message), nil
	}
	return mcp.NewToolResultText(out.Text), nil
}

func (s *Server) getTemplateContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.contract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     s.contract,
		},
	}, nil
}
