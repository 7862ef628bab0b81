package main

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handleNewSession issues a token for a fresh session. The session's analysis
// context is created lazily on first use and starts from the default result.
func (a *App) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	tok, err := signJWT(a.cfg.JWTSecret, id)
	if err != nil {
		http.Error(w, "jwt error", http.StatusInternalServerError)
		return
	}
	a.log.Info("session created", zap.String("session", id))
	writeJSON(w, http.StatusCreated, sessionResp{SessionID: id, Token: tok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
