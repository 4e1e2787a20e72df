package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/comigor/localchat/internal/logger"
	"github.com/comigor/localchat/internal/speech"
)

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var body speechRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Input) == "" {
		writeError(w, http.StatusBadRequest, "empty_input", speech.ErrEmptyInput.Error())
		return
	}

	start := time.Now()
	audio, contentType, err := s.speech.Render(r.Context(), strings.ToLower(body.ResponseFormat), body.Input, body.Voice, body.Speed)
	s.metrics.RecordTTS(r.Context(), time.Since(start), err)
	if err != nil {
		switch {
		case errors.Is(err, speech.ErrUnsupportedFormat):
			writeError(w, http.StatusBadRequest, "unsupported_format", err.Error())
		case errors.Is(err, speech.ErrInvalidSpeed):
			writeError(w, http.StatusBadRequest, "invalid_speed", err.Error())
		case errors.Is(err, speech.ErrEmptyInput):
			writeError(w, http.StatusBadRequest, "empty_input", err.Error())
		default:
			logger.FromContext(r.Context()).Error("speech synthesis failed", "error", err)
			writeError(w, http.StatusInternalServerError, "synthesis_failed", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", contentType)
	if contentType == speech.ContentTypeWAV {
		w.Header().Set("Content-Disposition", `inline; filename="speech.wav"`)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		logger.FromContext(r.Context()).Debug("failed to write audio", "error", err)
	}
}
