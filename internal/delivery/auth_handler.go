package delivery

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/Vovarama1992/go-utils/logger"
)

type AuthHandler struct {
	auth ports.AuthService
	log  *logger.ZapLogger
}

func NewAuthHandler(auth ports.AuthService, log *logger.ZapLogger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

type loginResponse struct {
	Token string `json:"token"`
}

// POST /api/login
//
// The operator password is exchanged for a bearer token that every other
// /api route and the dashboard socket expect.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, badJSON(err), "AUTH", "LOGIN")
		return
	}

	token, err := h.auth.Login(r.Context(), req.Password)
	if err != nil {
		writeError(w, h.log, fmt.Errorf("%w: %w", errUnauthorized, err), "AUTH", "LOGIN")
		return
	}

	h.log.Log(logger.LogEntry{Level: "info", Message: "[HTTP][AUTH][LOGIN][OK]"})
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}
