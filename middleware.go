package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fieldscan/analysis"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey string

const sessionKey ctxKey = "session"

// sessionMiddleware validates the session token, loads the session and
// provides its analysis context to everything below it. Browsers cannot set
// headers on websocket upgrades, so a "token" query parameter is accepted too.
func (a *App) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := ""
		if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			raw = strings.TrimPrefix(authz, "Bearer ")
		} else if q := r.URL.Query().Get("token"); q != "" {
			raw = q
		}
		if raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		sid, err := parseJWT(a.cfg.JWTSecret, raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		s, err := a.getSession(r.Context(), sid)
		if err != nil {
			a.log.Error("session load failed", zap.String("session", sid), zap.Error(err))
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, s)
		ctx = analysis.NewContext(ctx, s.results)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// mustSession returns the session provided by sessionMiddleware. Handlers
// mounted outside it are a wiring bug, so this panics (Recoverer turns it into a 500).
func mustSession(r *http.Request) *session {
	s, ok := r.Context().Value(sessionKey).(*session)
	if !ok {
		panic("session requested outside sessionMiddleware")
	}
	return s
}

// requestLogger logs one line per request with zap.
func (a *App) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
