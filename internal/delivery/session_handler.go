package delivery

import (
	"fmt"
	"net/http"

	"github.com/Vovarama1992/fonodesk/internal/apperrors"
	"github.com/Vovarama1992/fonodesk/internal/models"
	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/go-chi/chi/v5"
)

type SessionHandler struct {
	sessions ports.SessionRepository
	log      *logger.ZapLogger
}

func NewSessionHandler(sessions ports.SessionRepository, log *logger.ZapLogger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log,
	}
}

type sessionResponse struct {
	Session    *models.AudioSession `json:"session"`
	Transcript *models.Transcript   `json:"transcript,omitempty"`
}

// GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, h.log, fmt.Errorf("missing session id: %w", errBadRequest), "SESSION", "GET")
		return
	}

	sess, err := h.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err, "SESSION", "GET")
		return
	}
	if sess == nil {
		writeError(w, h.log, apperrors.ErrNotFound, "SESSION", "GET")
		return
	}

	tr, err := h.sessions.GetTranscript(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err, "SESSION", "GET")
		return
	}

	h.log.Log(logger.LogEntry{
		Level:   "info",
		Message: "session fetched",
		Fields: map[string]any{
			"session":    id,
			"status":     sess.Status,
			"transcript": tr != nil,
		},
	})

	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Transcript: tr})
}

// GET /api/patients/{id}/sessions
func (h *SessionHandler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")
	if patientID == "" {
		writeError(w, h.log, fmt.Errorf("missing patient id: %w", errBadRequest), "SESSION", "LIST")
		return
	}

	list, err := h.sessions.ListPatientSessions(r.Context(), patientID)
	if err != nil {
		writeError(w, h.log, err, "SESSION", "LIST")
		return
	}
	if list == nil {
		list = []models.AudioSession{}
	}
	writeJSON(w, http.StatusOK, list)
}
