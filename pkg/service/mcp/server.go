// Package mcp exposes the memory store as Model Context Protocol tools and provides a
// small client for calling a running mnemo server.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names served by Server
const (
	ToolAddMemory        = "add_memory"
	ToolGetMemory        = "get_memory"
	ToolUpdateMemory     = "update_memory"
	ToolDeleteMemory     = "delete_memory"
	ToolSearchMemory     = "search_memory"
	ToolListCollections  = "list_collections"
	ToolCreateCollection = "create_collection"
	ToolDeleteCollection = "delete_collection"
)

// MemoryService is the part of memory.UseCase exposed as tools
type MemoryService interface {
	Add(ctx context.Context, input memory.AddInput) (*model.Memory, error)
	Get(ctx context.Context, id model.MemoryID) (*model.Memory, error)
	Update(ctx context.Context, id model.MemoryID, input memory.UpdateInput) (*model.Memory, error)
	Delete(ctx context.Context, id model.MemoryID) error
	Search(ctx context.Context, input memory.SearchInput) ([]*model.QueryResult, error)
	ListCollections(ctx context.Context) []*model.Collection
	CreateCollection(ctx context.Context, name string, metadata model.Metadata) error
	DeleteCollection(ctx context.Context, name string) error
}

// Server serves memory tools over MCP
type Server struct {
	svc    MemoryService
	server *mcp.Server
}

type addMemoryParams struct {
	Content    string         `json:"content" jsonschema:"Text to remember"`
	Collection string         `json:"collection,omitempty" jsonschema:"Collection name, default when omitted"`
	Tags       []string       `json:"tags,omitempty" jsonschema:"Tags of the memory"`
	UserID     string         `json:"user_id,omitempty" jsonschema:"Owner of the memory"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"String, number, boolean or nested object values"`
}

type memoryIDParams struct {
	ID string `json:"id" jsonschema:"Memory ID"`
}

type updateMemoryParams struct {
	ID       string         `json:"id" jsonschema:"Memory ID"`
	Content  *string        `json:"content,omitempty" jsonschema:"New text, re-embedded when given"`
	Tags     []string       `json:"tags,omitempty" jsonschema:"Replaces all tags when given"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Merged key by key into the current metadata"`
}

type searchMemoryParams struct {
	Query      string   `json:"query" jsonschema:"Text to search for"`
	Collection string   `json:"collection,omitempty" jsonschema:"Only search this collection"`
	UserID     string   `json:"user_id,omitempty" jsonschema:"Only search memories of this user"`
	Tags       []string `json:"tags,omitempty" jsonschema:"Only search memories having at least one of these tags"`
	Limit      int      `json:"limit,omitempty" jsonschema:"Maximum number of results, 5 by default"`
	Threshold  *float64 `json:"threshold,omitempty" jsonschema:"Minimum cosine similarity, 0.7 by default"`
}

type collectionParams struct {
	Name     string         `json:"name" jsonschema:"Collection name"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Collection metadata"`
}

type emptyParams struct{}

// NewServer creates an MCP server exposing svc
func NewServer(svc MemoryService, version string) *Server {
	s := &Server{
		svc: svc,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "mnemo",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolAddMemory,
		Description: "Store a text as a new memory. The text is embedded for similarity search.",
	}, s.addMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolGetMemory,
		Description: "Get a memory by ID",
	}, s.getMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolUpdateMemory,
		Description: "Update content, tags or metadata of a memory",
	}, s.updateMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolDeleteMemory,
		Description: "Delete a memory by ID",
	}, s.deleteMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolSearchMemory,
		Description: "Find memories similar to a query, most similar first",
	}, s.searchMemory)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolListCollections,
		Description: "List collections with their memory counts",
	}, s.listCollections)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolCreateCollection,
		Description: "Create an empty collection",
	}, s.createCollection)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolDeleteCollection,
		Description: "Delete a collection and all memories in it",
	}, s.deleteCollection)

	return s
}

// Run serves over stdin/stdout until ctx is canceled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Handler returns a streamable HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// toolResult renders payload as JSON text. An error becomes an IsError result so that
// the calling model can read the message.
func toolResult(ctx context.Context, tool string, payload any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		logging.From(ctx).Warn("tool call failed", "tool", tool, logging.ErrAttr(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		}, nil, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result", goerr.V("tool", tool))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

// withoutEmbedding drops the vector from a memory returned to a client
func withoutEmbedding(mem *model.Memory) *model.Memory {
	if mem != nil {
		mem.Embedding = nil
	}
	return mem
}

func (s *Server) addMemory(ctx context.Context, req *mcp.CallToolRequest, params *addMemoryParams) (*mcp.CallToolResult, any, error) {
	meta, err := model.MetadataFrom(params.Metadata)
	if err != nil {
		return toolResult(ctx, ToolAddMemory, nil, err)
	}

	mem, err := s.svc.Add(ctx, memory.AddInput{
		Content:    params.Content,
		Metadata:   meta,
		Collection: params.Collection,
		Tags:       params.Tags,
		UserID:     params.UserID,
	})
	return toolResult(ctx, ToolAddMemory, withoutEmbedding(mem), err)
}

func (s *Server) getMemory(ctx context.Context, req *mcp.CallToolRequest, params *memoryIDParams) (*mcp.CallToolResult, any, error) {
	mem, err := s.svc.Get(ctx, model.MemoryID(params.ID))
	return toolResult(ctx, ToolGetMemory, withoutEmbedding(mem), err)
}

func (s *Server) updateMemory(ctx context.Context, req *mcp.CallToolRequest, params *updateMemoryParams) (*mcp.CallToolResult, any, error) {
	meta, err := model.MetadataFrom(params.Metadata)
	if err != nil {
		return toolResult(ctx, ToolUpdateMemory, nil, err)
	}

	input := memory.UpdateInput{
		Content:  params.Content,
		Metadata: meta,
	}
	if params.Tags != nil {
		input.Tags = &params.Tags
	}

	mem, err := s.svc.Update(ctx, model.MemoryID(params.ID), input)
	return toolResult(ctx, ToolUpdateMemory, withoutEmbedding(mem), err)
}

func (s *Server) deleteMemory(ctx context.Context, req *mcp.CallToolRequest, params *memoryIDParams) (*mcp.CallToolResult, any, error) {
	err := s.svc.Delete(ctx, model.MemoryID(params.ID))
	return toolResult(ctx, ToolDeleteMemory, map[string]any{"deleted": params.ID}, err)
}

func (s *Server) searchMemory(ctx context.Context, req *mcp.CallToolRequest, params *searchMemoryParams) (*mcp.CallToolResult, any, error) {
	results, err := s.svc.Search(ctx, memory.SearchInput{
		Query:      params.Query,
		Collection: params.Collection,
		UserID:     params.UserID,
		Tags:       params.Tags,
		Limit:      params.Limit,
		Threshold:  params.Threshold,
	})
	for _, r := range results {
		r.Memory = withoutEmbedding(r.Memory)
	}
	return toolResult(ctx, ToolSearchMemory, results, err)
}

func (s *Server) listCollections(ctx context.Context, req *mcp.CallToolRequest, params *emptyParams) (*mcp.CallToolResult, any, error) {
	return toolResult(ctx, ToolListCollections, s.svc.ListCollections(ctx), nil)
}

func (s *Server) createCollection(ctx context.Context, req *mcp.CallToolRequest, params *collectionParams) (*mcp.CallToolResult, any, error) {
	meta, err := model.MetadataFrom(params.Metadata)
	if err != nil {
		return toolResult(ctx, ToolCreateCollection, nil, err)
	}
	err = s.svc.CreateCollection(ctx, params.Name, meta)
	return toolResult(ctx, ToolCreateCollection, map[string]any{"created": params.Name}, err)
}

func (s *Server) deleteCollection(ctx context.Context, req *mcp.CallToolRequest, params *collectionParams) (*mcp.CallToolResult, any, error) {
	err := s.svc.DeleteCollection(ctx, params.Name)
	return toolResult(ctx, ToolDeleteCollection, map[string]any{"deleted": params.Name}, err)
}
