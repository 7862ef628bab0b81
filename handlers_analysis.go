package main

import (
	"net/http"
	"time"

	"fieldscan/analysis"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are already restricted by the CORS policy and the session token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleGetAnalysis returns the session's current result.
func (a *App) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	c := analysis.MustFromContext(r.Context())
	writeJSON(w, http.StatusOK, analysisResp{Result: c.Result(), IsAnalyzing: c.IsAnalyzing()})
}

// handleAnalysisStream pushes the current result, then every committed one,
// over a websocket until the client goes away.
func (a *App) handleAnalysisStream(w http.ResponseWriter, r *http.Request) {
	c := analysis.MustFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	// Drain client frames so close and ping are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	if err := send(analysisResp{Result: c.Result(), IsAnalyzing: c.IsAnalyzing()}); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case <-a.runCtx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case res := <-updates:
			if err := send(analysisResp{Result: res, IsAnalyzing: c.IsAnalyzing()}); err != nil {
				return
			}
		}
	}
}
