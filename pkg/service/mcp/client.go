package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client calls tools of a running mnemo server
type Client struct {
	session *mcp.ClientSession
	tools   map[string]*mcp.Tool
}

// ServerConfig tells Client how to reach a server
type ServerConfig struct {
	Transport string // "stdio" or "http"
	Command   []string
	URL       string
	Env       map[string]string
}

// Connect opens a session and fetches the tool list
func Connect(ctx context.Context, cfg ServerConfig, version string) (*Client, error) {
	var transport mcp.Transport
	var err error

	switch cfg.Transport {
	case "stdio":
		transport, err = createStdioTransport(cfg)
	case "http":
		transport, err = createHTTPTransport(cfg)
	default:
		return nil, goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create transport")
	}

	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "mnemo-client",
		Version: version,
	}, nil)

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to MCP server")
	}

	toolsResult, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return nil, goerr.Wrap(err, "failed to list tools")
	}

	tools := make(map[string]*mcp.Tool, len(toolsResult.Tools))
	for _, t := range toolsResult.Tools {
		tools[t.Name] = t
	}

	return &Client{session: session, tools: tools}, nil
}

func createStdioTransport(cfg ServerConfig) (mcp.Transport, error) {
	if len(cfg.Command) == 0 {
		return nil, goerr.New("command is required for stdio transport")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	return &mcp.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg ServerConfig) (mcp.Transport, error) {
	if cfg.URL == "" {
		return nil, goerr.New("url is required for http transport")
	}
	return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
}

// Tools returns tools offered by the server
func (c *Client) Tools() []*mcp.Tool {
	tools := make([]*mcp.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		tools = append(tools, t)
	}
	return tools
}

// InputSchema returns the argument schema of a tool
func (c *Client) InputSchema(name string) (*jsonschema.Schema, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, goerr.New("tool not found", goerr.V("tool", name))
	}

	// InputSchema arrives as a decoded JSON value
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema", goerr.V("tool", name))
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema", goerr.V("tool", name))
	}
	return &schema, nil
}

// Call invokes a tool and returns its text output. A result flagged as error is
// returned as an error carrying the message.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if _, ok := c.tools[name]; !ok {
		return "", goerr.New("tool not found", goerr.V("tool", name))
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to call tool", goerr.V("tool", name))
	}

	var texts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	out := strings.Join(texts, "\n")

	if result.IsError {
		return "", goerr.New(name+" failed: "+out, goerr.V("tool", name))
	}
	return out, nil
}

// Close ends the session
func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		return goerr.Wrap(err, "failed to close session")
	}
	return nil
}
