package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(New(Checker{Name: "db", Check: func(context.Context) error { return errors.New("down") }}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestReadyz_AllPass(t *testing.T) {
	rec := serve(New(
		Checker{Name: "history", Check: func(context.Context) error { return nil }},
		Checker{Name: "memory", Check: func(context.Context) error { return nil }},
	), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.True(t, body.OK)
	require.Equal(t, map[string]string{"history": "ok", "memory": "ok"}, body.Checks)
}

func TestReadyz_OneFails(t *testing.T) {
	rec := serve(New(
		Checker{Name: "history", Check: func(context.Context) error { return nil }},
		Checker{Name: "memory", Check: func(context.Context) error { return errors.New("graph offline") }},
	), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.False(t, body.OK)
	require.Equal(t, "fail: graph offline", body.Checks["memory"])
}

func TestReadyz_NoCheckers(t *testing.T) {
	rec := serve(New(), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}
