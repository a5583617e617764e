package mcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/mcp"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
)

func setupServer(t *testing.T) (*mcp.Client, *memory.UseCase) {
	t.Helper()
	ctx := context.Background()

	uc, err := memory.New(ctx, nil, adapter.NewHashEmbedder(16))
	gt.NoError(t, err)

	server := mcp.NewServer(uc, "test")
	testServer := httptest.NewServer(server.Handler())
	t.Cleanup(testServer.Close)

	client, err := mcp.Connect(ctx, mcp.ServerConfig{
		Transport: "http",
		URL:       testServer.URL,
	}, "test")
	gt.NoError(t, err)
	// close client before the test server to allow clean shutdown
	t.Cleanup(func() { _ = client.Close() })

	return client, uc
}

func TestServerTools(t *testing.T) {
	client, _ := setupServer(t)

	names := make([]string, 0)
	for _, tool := range client.Tools() {
		names = append(names, tool.Name)
	}
	gt.A(t, names).Length(8)
	for _, name := range []string{
		mcp.ToolAddMemory, mcp.ToolGetMemory, mcp.ToolUpdateMemory, mcp.ToolDeleteMemory,
		mcp.ToolSearchMemory, mcp.ToolListCollections, mcp.ToolCreateCollection, mcp.ToolDeleteCollection,
	} {
		gt.True(t, slices.Contains(names, name))
	}

	schema, err := client.InputSchema(mcp.ToolAddMemory)
	gt.NoError(t, err)
	gt.True(t, slices.Contains(schema.Required, "content"))
	gt.False(t, slices.Contains(schema.Required, "collection"))

	_, err = client.InputSchema("unknown")
	gt.Error(t, err)
}

func TestServerMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	client, uc := setupServer(t)

	out, err := client.Call(ctx, mcp.ToolAddMemory, map[string]any{
		"content":    "the cat sleeps on the sofa",
		"collection": "pets",
		"tags":       []string{"home"},
		"metadata":   map[string]any{"mood": "lazy", "age": 3},
	})
	gt.NoError(t, err)

	var added model.Memory
	gt.NoError(t, json.Unmarshal([]byte(out), &added))
	gt.Equal(t, added.Collection, "pets")
	gt.Equal(t, added.Tags, []string{"home"})
	gt.A(t, added.Embedding).Length(0)
	gt.S(t, out).NotContains("embedding")

	stored, err := uc.Get(ctx, added.ID)
	gt.NoError(t, err)
	mood, ok := stored.Metadata["mood"].AsString()
	gt.True(t, ok)
	gt.Equal(t, mood, "lazy")

	t.Run("get", func(t *testing.T) {
		out, err := client.Call(ctx, mcp.ToolGetMemory, map[string]any{"id": string(added.ID)})
		gt.NoError(t, err)
		gt.S(t, out).Contains("the cat sleeps on the sofa")
		gt.S(t, out).NotContains("embedding")

		// the stored memory keeps its vector
		stored, err := uc.Get(ctx, added.ID)
		gt.NoError(t, err)
		gt.A(t, stored.Embedding).Length(16)
	})

	t.Run("search", func(t *testing.T) {
		out, err := client.Call(ctx, mcp.ToolSearchMemory, map[string]any{
			"query":      "the cat sleeps on the sofa",
			"collection": "pets",
		})
		gt.NoError(t, err)

		var results []*model.QueryResult
		gt.NoError(t, json.Unmarshal([]byte(out), &results))
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].Memory.ID, added.ID)
		gt.A(t, results[0].Memory.Embedding).Length(0)
	})

	t.Run("update", func(t *testing.T) {
		out, err := client.Call(ctx, mcp.ToolUpdateMemory, map[string]any{
			"id":   string(added.ID),
			"tags": []string{"sofa"},
		})
		gt.NoError(t, err)
		gt.S(t, out).Contains("sofa")
		gt.S(t, out).NotContains("embedding")

		stored, err := uc.Get(ctx, added.ID)
		gt.NoError(t, err)
		gt.Equal(t, stored.Tags, []string{"sofa"})
		gt.Equal(t, stored.Content, "the cat sleeps on the sofa")
	})

	t.Run("delete", func(t *testing.T) {
		_, err := client.Call(ctx, mcp.ToolDeleteMemory, map[string]any{"id": string(added.ID)})
		gt.NoError(t, err)

		_, err = client.Call(ctx, mcp.ToolGetMemory, map[string]any{"id": string(added.ID)})
		gt.Error(t, err)
	})
}

func TestServerCollections(t *testing.T) {
	ctx := context.Background()
	client, uc := setupServer(t)

	_, err := client.Call(ctx, mcp.ToolCreateCollection, map[string]any{"name": "notes"})
	gt.NoError(t, err)

	_, err = client.Call(ctx, mcp.ToolCreateCollection, map[string]any{"name": "notes"})
	gt.Error(t, err)

	_, err = uc.Add(ctx, memory.AddInput{Content: "buy milk", Collection: "notes"})
	gt.NoError(t, err)

	out, err := client.Call(ctx, mcp.ToolListCollections, nil)
	gt.NoError(t, err)

	var cols []*model.Collection
	gt.NoError(t, json.Unmarshal([]byte(out), &cols))
	gt.A(t, cols).Length(2)

	_, err = client.Call(ctx, mcp.ToolDeleteCollection, map[string]any{"name": model.DefaultCollection})
	gt.Error(t, err)

	_, err = client.Call(ctx, mcp.ToolDeleteCollection, map[string]any{"name": "notes"})
	gt.NoError(t, err)
	gt.A(t, uc.ListCollections(ctx)).Length(1)
}

func TestServerRejectsInvalidArguments(t *testing.T) {
	ctx := context.Background()
	client, _ := setupServer(t)

	_, err := client.Call(ctx, mcp.ToolAddMemory, map[string]any{"content": ""})
	gt.Error(t, err)

	_, err = client.Call(ctx, mcp.ToolSearchMemory, map[string]any{"query": ""})
	gt.Error(t, err)

	_, err = client.Call(ctx, mcp.ToolCreateCollection, map[string]any{"name": "team/notes"})
	gt.Error(t, err)

	_, err = client.Call(ctx, "no_such_tool", nil)
	gt.Error(t, err)
}
