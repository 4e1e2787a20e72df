package memory

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/comigor/localchat/internal/config"
)

type mockMCPClient struct {
	InitializeFunc func(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	CallToolFunc   func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	pingErr        error
	closed         bool
}

func (m *mockMCPClient) Ping(context.Context) error { return m.pingErr }

func (m *mockMCPClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx, req)
	}
	return &mcp.InitializeResult{}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.CallToolFunc != nil {
		return m.CallToolFunc(ctx, request)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: `{"facts":[]}`}}}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

func textResult(text string, isErr bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: isErr,
	}
}

func TestGraphiti_Search(t *testing.T) {
	var got mcp.CallToolRequest
	m := &mockMCPClient{CallToolFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		got = req
		return textResult(`{"message":"ok","facts":[
			{"fact":"User likes green tea","valid_at":"2024-04-01T10:00:00Z"},
			{"fact":"User lives in Lisbon","valid_at":null}]}`, false), nil
	}}
	g, err := newGraphiti(context.Background(), m, "graphiti", "localchat", 5)
	require.NoError(t, err)

	facts, err := g.Search(context.Background(), "what do I drink?")
	require.NoError(t, err)
	require.Len(t, facts, 2)
	require.Equal(t, "User likes green tea", facts[0].Text)
	require.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), facts[0].At.UTC())
	require.True(t, facts[1].At.IsZero())

	require.Equal(t, toolSearchFacts, got.Params.Name)
	args, ok := got.Params.Arguments.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "what do I drink?", args["query"])
	require.Equal(t, []string{"localchat"}, args["group_ids"])
	require.Equal(t, 5, args["max_facts"])
}

func TestGraphiti_SearchFailures(t *testing.T) {
	cases := []struct {
		name string
		res  *mcp.CallToolResult
		err  error
		is   error
	}{
		{"transport error", nil, errors.New("connection refused"), nil},
		{"tool error", textResult("neo4j down", true), nil, ErrUnavailable},
		{"error payload", textResult(`{"error":"group not found"}`, false), nil, ErrUnavailable},
		{"not json", textResult("nothing here", false), nil, ErrUnavailable},
		{"nil result", nil, nil, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockMCPClient{CallToolFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return tc.res, tc.err
			}}
			g, err := newGraphiti(context.Background(), m, "graphiti", "g", 0)
			require.NoError(t, err)

			_, err = g.Search(context.Background(), "q")
			require.Error(t, err)
			if tc.is != nil {
				require.ErrorIs(t, err, tc.is)
			}
		})
	}
}

func TestGraphiti_AddEpisode(t *testing.T) {
	var got mcp.CallToolRequest
	m := &mockMCPClient{CallToolFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		got = req
		return textResult(`{"message":"Episode queued"}`, false), nil
	}}
	g, err := newGraphiti(context.Background(), m, "graphiti", "localchat", 0)
	require.NoError(t, err)

	ep := NewEpisode("hi", "hello!", "s1", time.Now())
	require.NoError(t, g.AddEpisode(context.Background(), ep))

	require.Equal(t, toolAddMemory, got.Params.Name)
	args := got.Params.Arguments.(map[string]any)
	require.Equal(t, ep.Name, args["name"])
	require.Equal(t, "User: hi\nAssistant: hello!", args["episode_body"])
	require.Equal(t, "localchat", args["group_id"])
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	require.ElementsMatch(t, []string{"name", "episode_body", "group_id", "source", "source_description"}, keys,
		"add_memory takes no reference time; the server stamps episodes on receipt")

	require.NoError(t, g.Close())
	require.True(t, m.closed)
}

func TestNewGraphiti_InitializeError(t *testing.T) {
	m := &mockMCPClient{InitializeFunc: func(context.Context, mcp.InitializeRequest) (*mcp.InitializeResult, error) {
		return nil, errors.New("handshake failed")
	}}
	_, err := newGraphiti(context.Background(), m, "graphiti", "g", 0)
	require.Error(t, err)
}

func TestNewGraphiti_UnsupportedTransport(t *testing.T) {
	_, err := NewGraphiti(context.Background(), config.MCPServerConfig{Name: "x", Type: "carrier-pigeon"}, "g", 0)
	require.Error(t, err)
}

func TestNewEpisode_Deterministic(t *testing.T) {
	a := NewEpisode("q", "a", "s1", time.Now())
	b := NewEpisode("q", "a", "s2", time.Now().Add(time.Hour))
	c := NewEpisode("q", "a!", "s1", time.Now())

	require.Len(t, a.Name, 64)
	require.Equal(t, a.Name, b.Name)
	require.NotEqual(t, a.Name, c.Name)
	require.Equal(t, "s2", b.SessionID)
}

func TestHandle(t *testing.T) {
	var zero Handle
	_, ok := zero.Get()
	require.False(t, ok)
	require.False(t, None().Enabled())
	require.NoError(t, zero.Ping(context.Background()))
	require.NoError(t, zero.Close())

	m := &mockMCPClient{}
	g, err := newGraphiti(context.Background(), m, "graphiti", "g", 0)
	require.NoError(t, err)
	h := Some(g)
	c, ok := h.Get()
	require.True(t, ok)
	require.Same(t, g, c)
	require.NoError(t, h.Ping(context.Background()))
	m.pingErr = errors.New("gone")
	require.Error(t, h.Ping(context.Background()))
	require.NoError(t, h.Close())
	require.True(t, m.closed)

	require.False(t, Some(nil).Enabled())
}

func TestFormatFacts(t *testing.T) {
	require.Equal(t, "", FormatFacts(nil))
	require.Equal(t, "", FormatFacts([]Fact{{Text: "  "}}))
	require.Equal(t,
		FactsHeader+"\n- likes tea\n- lives in Lisbon\n",
		FormatFacts([]Fact{{Text: "likes tea"}, {Text: ""}, {Text: " lives in Lisbon "}}))
}

func TestOpen_Disabled(t *testing.T) {
	h, err := Open(context.Background(), config.MemoryConfig{})
	require.NoError(t, err)
	require.False(t, h.Enabled())

	_, err = Open(context.Background(), config.MemoryConfig{Backend: "redis"})
	require.Error(t, err)
}

type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Dimensions() int { return f.dims }

func (f fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, f.dims)
	for i, r := range text {
		v[i%f.dims] += float32(r % 7)
	}
	v[0] += 1
	return v, nil
}

func TestVectorStore_Postgres(t *testing.T) {
	dsn := os.Getenv("LOCALCHAT_TEST_DSN")
	if dsn == "" {
		t.Skip("LOCALCHAT_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenVectorStore(ctx, dsn, fakeEmbedder{dims: 8}, "test-"+time.Now().Format("150405.000000"), 3)
	require.NoError(t, err)
	defer s.Close()

	ep := NewEpisode("my cat is called Miso", "Nice name!", "s1", time.Now())
	require.NoError(t, s.AddEpisode(ctx, ep))
	require.NoError(t, s.AddEpisode(ctx, ep), "duplicate episode is ignored")

	facts, err := s.Search(ctx, "my cat is called Miso")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, ep.Body, facts[0].Text)
}

func TestOpenVectorStore_NeedsDimensions(t *testing.T) {
	_, err := OpenVectorStore(context.Background(), "postgres://unused", fakeEmbedder{}, "g", 0)
	require.Error(t, err)
}
