package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/comigor/localchat/internal/chat"
	"github.com/comigor/localchat/internal/llm"
	"github.com/comigor/localchat/internal/logger"
)

// SessionHeader carries the session id when the query string does not.
const SessionHeader = "X-Session-ID"

type completionRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Stream      bool                           `json:"stream"`
	Temperature *float32                       `json:"temperature,omitempty"`
	MaxTokens   int                            `json:"max_tokens,omitempty"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int               `json:"index"`
	Message      completionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   llm.Usage          `json:"usage"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

// sessionID picks the session from the query string, then the header. An
// empty result selects the runtime default.
func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("session_id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(SessionHeader))
}

// messageText flattens multi-part content to its text parts.
func messageText(m openai.ChatCompletionMessage) string {
	if m.Content != "" || len(m.MultiContent) == 0 {
		return m.Content
	}
	var parts []string
	for _, p := range m.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body completionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body: "+err.Error())
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "empty_messages", chat.ErrNoMessages.Error())
		return
	}

	req := chat.Request{
		SessionID:   sessionID(r),
		Messages:    make([]llm.Message, len(body.Messages)),
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	}
	for i, m := range body.Messages {
		req.Messages[i] = llm.Message{Role: m.Role, Content: messageText(m)}
	}

	model := body.Model
	if model == "" {
		model = s.opts.Model
	}
	id := "chatcmpl-" + uuid.NewString()
	created := s.now().Unix()

	if body.Stream {
		s.streamCompletion(w, r, req, id, model, created)
		return
	}

	res, err := s.chat.Complete(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNoMessages):
			writeError(w, http.StatusBadRequest, "empty_messages", err.Error())
		case r.Context().Err() != nil:
			// Client is gone; nothing useful can be written.
		default:
			logger.FromContext(r.Context()).Error("chat completion failed", "error", err)
			writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []completionChoice{{
			Message:      completionMessage{Role: openai.ChatMessageRoleAssistant, Content: res.Text},
			FinishReason: string(openai.FinishReasonStop),
		}},
		Usage: res.Usage,
	})
}

// streamCompletion relays turn deltas as chat.completion.chunk events. Model
// failures arrive as an inline delta, so the stream always ends with the
// stop chunk and [DONE] unless the client went away.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req chat.Request, id, model string, created int64) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}
	log := logger.FromContext(r.Context())

	turn, err := s.chat.Stream(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "empty_messages", err.Error())
		return
	}
	defer turn.Cancel()

	chunk := func(delta chunkDelta, finish *string) completionChunk {
		return completionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []chunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	sse.start()
	if err := sse.event(chunk(chunkDelta{Role: openai.ChatMessageRoleAssistant}, nil)); err != nil {
		log.Debug("client went away", "error", err)
		return
	}
	for d := range turn.Deltas() {
		if err := sse.event(chunk(chunkDelta{Content: d}, nil)); err != nil {
			log.Debug("client went away", "error", err)
			return
		}
	}

	if res := turn.Wait(); res.State == chat.StateCancelled {
		return
	}
	stop := string(openai.FinishReasonStop)
	if err := sse.event(chunk(chunkDelta{}, &stop)); err != nil {
		return
	}
	if err := sse.done(); err != nil {
		log.Debug("failed to terminate stream", "error", err)
	}
}
