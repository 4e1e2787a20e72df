package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/localchat/internal/config"
)

// OpenAI streams completions from an OpenAI-compatible /chat/completions
// endpoint such as llama.cpp server or vLLM.
type OpenAI struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

var _ Streamer = (*OpenAI)(nil)

// NewClient creates a new OpenAI-compatible streamer
func NewClient(cfg config.LLMConfig) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(oc),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}
}

// Model is the configured model name.
func (o *OpenAI) Model() string { return o.model }

// Stream implements Streamer. The configured system prompt, when set, is
// sent ahead of req.Messages.
func (o *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.systemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:         o.model,
		Messages:      msgs,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		MaxTokens:     req.MaxTokens,
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
		// The request field is omitempty; an explicit zero would be dropped.
		if creq.Temperature == 0 {
			creq.Temperature = math.SmallestNonzeroFloat32
		}
	}

	s, err := o.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("llm: create stream: %w", err)
	}
	return &openaiStream{s: s}, nil
}

type openaiStream struct {
	s *openai.ChatCompletionStream
}

// Recv skips keep-alive chunks that carry neither text nor usage.
func (st *openaiStream) Recv() (Chunk, error) {
	for {
		resp, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("llm: recv: %w", err)
		}

		var c Chunk
		if len(resp.Choices) > 0 {
			c.Text = resp.Choices[0].Delta.Content
		}
		if resp.Usage != nil {
			c.Usage = &Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if c.Text != "" || c.Usage != nil {
			return c, nil
		}
	}
}

func (st *openaiStream) Close() error {
	return st.s.Close()
}
