package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ingest/internal/webhook"
)

// handleWebhook accepts a reading payload for one device.
//
// The response body always has the webhook.Response shape so device
// firmware can parse failures the same way as successes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	token := r.URL.Query().Get("token")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, webhook.Response{Message: "Payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, webhook.Response{Message: "Could not read request body"})
		return
	}

	status, resp := s.webhook.Handle(r.Context(), deviceID, token, body)
	writeJSON(w, status, resp)
}

// handleListConnections reports the state of every broker connection.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := s.pool.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns, "count": len(conns)})
}

// handleResync queues a device resync. The pool applies it on its own
// goroutine, so the request returns before connections change.
func (s *Server) handleResync(w http.ResponseWriter, _ *http.Request) {
	s.pool.RequestResync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resync requested"})
}
