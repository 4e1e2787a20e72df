package llm

import (
	"context"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request is a single generation call.
type Request struct {
	Messages []Message
	// Temperature is forwarded when set.
	Temperature *float32
	// MaxTokens is forwarded when positive.
	MaxTokens int
}

// Usage is token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one streamed update. When Cumulative is set Text holds the whole
// response generated so far; otherwise it holds only the new fragment.
type Chunk struct {
	Text       string
	Cumulative bool
	Usage      *Usage
}

// Stream yields chunks until Recv returns io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Streamer starts streaming generations; it is easy to mock in tests.
type Streamer interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
