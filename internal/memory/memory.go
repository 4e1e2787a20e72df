// Package memory is the optional long-term memory of the chat backend.
//
// A Client searches facts relevant to a query and records finished turns as
// episodes. Two backends exist: a Graphiti knowledge graph reached over MCP
// and a local pgvector table. Callers hold a Handle, whose zero value means
// memory is disabled.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comigor/localchat/internal/config"
	"github.com/comigor/localchat/internal/embedding"
)

// ErrUnavailable reports that the backend answered but could not serve the
// request.
var ErrUnavailable = errors.New("memory: backend unavailable")

// Fact is one search hit.
type Fact struct {
	Text  string
	At    time.Time
	Score float64
}

// Episode is a completed turn submitted to long-term memory. Name is derived
// from the content so resubmitting the same turn is deduplicated.
type Episode struct {
	Name      string
	Body      string
	SessionID string
	At        time.Time
}

// NewEpisode builds the episode for one user/assistant exchange.
func NewEpisode(user, assistant, sessionID string, at time.Time) Episode {
	body := "User: " + user + "\nAssistant: " + assistant
	sum := sha256.Sum256([]byte(body))
	return Episode{
		Name:      hex.EncodeToString(sum[:]),
		Body:      body,
		SessionID: sessionID,
		At:        at.UTC(),
	}
}

// Client is a long-term memory backend. Implementations are safe for
// concurrent use.
type Client interface {
	Search(ctx context.Context, query string) ([]Fact, error)
	AddEpisode(ctx context.Context, ep Episode) error
	Ping(ctx context.Context) error
	Close() error
}

// Handle is an optional Client. The zero value is the disabled variant.
type Handle struct {
	client Client
}

// Some wraps c. A nil c yields the disabled variant.
func Some(c Client) Handle { return Handle{client: c} }

// None is the disabled variant.
func None() Handle { return Handle{} }

// Get returns the client and whether memory is enabled.
func (h Handle) Get() (Client, bool) { return h.client, h.client != nil }

func (h Handle) Enabled() bool { return h.client != nil }

// Ping checks the backend. A disabled Handle is always healthy.
func (h Handle) Ping(ctx context.Context) error {
	if h.client == nil {
		return nil
	}
	return h.client.Ping(ctx)
}

func (h Handle) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// FactsHeader opens the facts block of an assembled prompt.
const FactsHeader = "Relevant facts from long-term memory:"

// FormatFacts renders facts as a labeled bullet block. Empty input renders
// as "".
func FormatFacts(facts []Fact) string {
	var b strings.Builder
	for _, f := range facts {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(FactsHeader)
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Open builds the backend selected by cfg.Backend. An empty backend returns
// the disabled Handle.
func Open(ctx context.Context, cfg config.MemoryConfig) (Handle, error) {
	switch cfg.Backend {
	case "":
		return None(), nil
	case config.MemoryBackendMCP:
		g, err := NewGraphiti(ctx, cfg.MCP, cfg.GroupID, cfg.MaxFacts)
		if err != nil {
			return None(), err
		}
		return Some(g), nil
	case config.MemoryBackendPGVector:
		v, err := OpenVectorStore(ctx, cfg.DSN, embedding.New(cfg.Embedding), cfg.GroupID, cfg.MaxFacts)
		if err != nil {
			return None(), err
		}
		return Some(v), nil
	default:
		return None(), fmt.Errorf("memory: unknown backend %q", cfg.Backend)
	}
}
