package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/localchat/internal/config"
	"github.com/comigor/localchat/internal/logger"
)

// Graphiti MCP server tools.
const (
	toolSearchFacts = "search_memory_facts"
	toolAddMemory   = "add_memory"
)

// MCPClient is the subset of the mcp-go client used by Graphiti.
type MCPClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Graphiti talks to a Graphiti knowledge-graph MCP server.
type Graphiti struct {
	mcp      MCPClient
	name     string
	groupID  string
	maxFacts int
}

var _ Client = (*Graphiti)(nil)

// NewGraphiti connects to the MCP server described by cfg and runs the
// initialize handshake.
func NewGraphiti(ctx context.Context, cfg config.MCPServerConfig, groupID string, maxFacts int) (*Graphiti, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.Type {
	case config.ClientTypeSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		c, err = client.NewSSEMCPClient(cfg.URL, opts...)
	case config.ClientTypeStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(cfg.URL, opts...)
	case config.ClientTypeStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	default:
		return nil, fmt.Errorf("memory: unsupported mcp transport %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: create mcp client %q: %w", cfg.Name, err)
	}

	// stdio clients start their subprocess on creation.
	if cfg.Type != config.ClientTypeStdio {
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("memory: start mcp transport %q: %w", cfg.Name, err)
		}
	}

	g, err := newGraphiti(ctx, c, cfg.Name, groupID, maxFacts)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return g, nil
}

func newGraphiti(ctx context.Context, c MCPClient, name, groupID string, maxFacts int) (*Graphiti, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "localchat", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("memory: initialize mcp %q: %w", name, err)
	}
	logger.L.Info("memory server initialized", "name", name, "group_id", groupID)
	return &Graphiti{mcp: c, name: name, groupID: groupID, maxFacts: maxFacts}, nil
}

type factsPayload struct {
	Error string `json:"error"`
	Facts []struct {
		Fact    string `json:"fact"`
		ValidAt string `json:"valid_at"`
	} `json:"facts"`
}

// Search calls search_memory_facts scoped to the configured group.
func (g *Graphiti) Search(ctx context.Context, query string) ([]Fact, error) {
	args := map[string]any{
		"query":     query,
		"group_ids": []string{g.groupID},
	}
	if g.maxFacts > 0 {
		args["max_facts"] = g.maxFacts
	}
	text, err := g.call(ctx, toolSearchFacts, args)
	if err != nil {
		return nil, err
	}

	var payload factsPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s result: %v", ErrUnavailable, toolSearchFacts, err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, payload.Error)
	}

	facts := make([]Fact, 0, len(payload.Facts))
	for _, f := range payload.Facts {
		fact := Fact{Text: f.Fact}
		if at, err := time.Parse(time.RFC3339Nano, f.ValidAt); err == nil {
			fact.At = at
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// AddEpisode calls add_memory. Graphiti processes episodes asynchronously, so
// success only means the episode was queued. The tool has no reference time
// argument; the server stamps the episode when it receives it, so ep.At is
// not sent.
func (g *Graphiti) AddEpisode(ctx context.Context, ep Episode) error {
	_, err := g.call(ctx, toolAddMemory, map[string]any{
		"name":               ep.Name,
		"episode_body":       ep.Body,
		"group_id":           g.groupID,
		"source":             "text",
		"source_description": "chat session " + ep.SessionID,
	})
	return err
}

func (g *Graphiti) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := g.mcp.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("memory: call %s: %w", tool, err)
	}
	if res == nil {
		return "", fmt.Errorf("%w: %s: empty result", ErrUnavailable, tool)
	}
	text := firstText(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("%w: %s: %s", ErrUnavailable, tool, text)
	}
	return text, nil
}

func firstText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return strings.TrimSpace(tc.Text)
		}
	}
	return ""
}

func (g *Graphiti) Ping(ctx context.Context) error {
	if err := g.mcp.Ping(ctx); err != nil {
		return fmt.Errorf("memory: ping %q: %w", g.name, err)
	}
	return nil
}

func (g *Graphiti) Close() error {
	return g.mcp.Close()
}
