package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/localchat/internal/config"
)

func fakeEmbeddings(t *testing.T, dims int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openai.EmbeddingResponse{Object: "list", Model: openai.EmbeddingModel(req.Model)}
		// Reply in reverse order; callers must honour Index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			vec[0] = float32(len(req.Input[i]))
			resp.Data = append(resp.Data, openai.Embedding{Object: "embedding", Index: i, Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbed_OrderAndBlankInputs(t *testing.T) {
	srv := fakeEmbeddings(t, 4)
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL + "/v1", Model: "nomic", Dimensions: 4})
	vecs, err := e.Embed(context.Background(), "a", "  ", "abc")
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, float32(1), vecs[0][0])
	require.Equal(t, float32(3), vecs[1][0])

	vecs, err = e.Embed(context.Background(), "", " ")
	require.NoError(t, err)
	require.Nil(t, vecs)
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	srv := fakeEmbeddings(t, 3)
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL + "/v1", Model: "nomic", Dimensions: 768})
	_, err := e.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedQuery_Unchecked(t *testing.T) {
	srv := fakeEmbeddings(t, 3)
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL + "/v1", Model: "nomic"})
	vec, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 3)
	require.Equal(t, 0, e.Dimensions())
}
