package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/julienschmidt/httprouter"
)

// HealthStatus is the result payload of GET /health.
type HealthStatus struct {
	ActiveSessions int    `json:"active_sessions"`
	Uptime         string `json:"uptime"`
}

// chatHandler handles POST /chat. The reply is returned bare, not wrapped in the envelope,
// so that clients can post the returned session_id straight back.
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)

	resp := s.planner.HandleTurn(r.Context(), req)
	slog.Debug("Server.chatHandler: turn handled", "request_session_id", req.SessionID,
		"session_id", resp.SessionID, "has_itinerary", resp.Itinerary != nil)
	writeJSONResponse(w, http.StatusOK, resp)
}

// clearSessionHandler handles DELETE /sessions/:id.
func (s *Server) clearSessionHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	s.planner.ClearSession(id)
	slog.Info("Server.clearSessionHandler: session cleared", "session_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session cleared", nil))
}

// turnsHandler handles GET /sessions/:id/turns.
func (s *Server) turnsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.turns == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Turn log is not enabled"))
		return
	}
	id := ps.ByName("id")
	turns, err := s.turns.ListTurns(r.Context(), id)
	if err != nil {
		slog.Error("Server.turnsHandler: ListTurns failed", "error", err, "session_id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load turns"))
		return
	}
	if turns == nil {
		turns = []store.TurnRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turns))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSONResponse(w, http.StatusOK, models.Success(HealthStatus{
		ActiveSessions: s.planner.ActiveSessions(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
	}))
}
