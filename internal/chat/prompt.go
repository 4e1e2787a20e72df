package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/localchat/internal/history"
	"github.com/comigor/localchat/internal/llm"
	"github.com/comigor/localchat/internal/logger"
	"github.com/comigor/localchat/internal/memory"
	"github.com/comigor/localchat/internal/observe"
)

// Transcript renders messages as "ROLE:\ncontent" blocks separated by blank
// lines. Messages with blank content are skipped.
func Transcript(msgs []llm.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		parts = append(parts, strings.ToUpper(m.Role)+":\n"+content+"\n")
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func historyMessages(msgs []history.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// userQuery is the content of the last user message.
func userQuery(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == history.RoleUser {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

// assemble builds the prompt: long-term facts, then the session's recent
// history, then the current request. The memory search and the history read
// run concurrently; a failed search only drops the facts block.
func (r *Runtime) assemble(ctx context.Context, sessionID, query string, current []llm.Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "chat.assemble")
	defer span.End()

	var (
		facts string
		prior []history.Message
	)
	g, gctx := errgroup.WithContext(ctx)

	if mem, ok := r.memory.Get(); ok && query != "" {
		g.Go(func() error {
			facts = r.searchFacts(gctx, mem, query)
			return nil
		})
	}
	g.Go(func() error {
		var err error
		prior, err = r.store.Recent(gctx, sessionID, r.opts.HistoryLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("chat: load history: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("memory.facts", facts != ""),
		attribute.Int("history.messages", len(prior)),
	)

	parts := make([]string, 0, 3)
	for _, p := range []string{facts, Transcript(historyMessages(prior)), Transcript(current)} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func (r *Runtime) searchFacts(ctx context.Context, mem memory.Client, query string) string {
	if r.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SearchTimeout)
		defer cancel()
	}
	start := time.Now()
	facts, err := mem.Search(ctx, query)
	if err != nil {
		logger.FromContext(ctx).Warn("memory search failed; continuing without facts", "error", err, "duration", time.Since(start))
		r.metrics.MemorySearchFailures.Add(ctx, 1)
		return ""
	}
	return memory.FormatFacts(facts)
}

// deltaTracker turns a chunk sequence into non-overlapping fragments whose
// concatenation is the full response.
type deltaTracker struct {
	prev string
}

func (d *deltaTracker) next(c llm.Chunk) string {
	if !c.Cumulative {
		d.prev += c.Text
		return c.Text
	}
	if len(c.Text) <= len(d.prev) {
		return ""
	}
	delta := c.Text[len(d.prev):]
	d.prev = c.Text
	return delta
}

// estimateTokens approximates a token count at four characters per token.
func estimateTokens(s string) int {
	n := len([]rune(s))
	return (n + 3) / 4
}

func estimateUsage(prompt, completion string) llm.Usage {
	u := llm.Usage{
		PromptTokens:     estimateTokens(prompt),
		CompletionTokens: estimateTokens(completion),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
