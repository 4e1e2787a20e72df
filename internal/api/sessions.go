package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/comigor/localchat/internal/logger"
)

type sessionView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
}

type messageView struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.history.Sessions(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	out := make([]sessionView, len(sessions))
	for i, ss := range sessions {
		out[i] = sessionView{ID: ss.ID, Title: ss.Title, UpdatedAt: ss.UpdatedAt.UnixMilli()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := s.history.Messages(r.Context(), id)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt.UnixMilli()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.history.Delete(r.Context(), id); err != nil {
		logger.FromContext(r.Context()).Error("failed to delete session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": id})
}
