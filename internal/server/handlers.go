package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prateekraj3711-alt/PwC/api/schemas"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "portal-login-automation",
		"endpoints": []string{
			"POST /start-login",
			"POST /complete-login",
			"DELETE /sessions/{id}",
			"DELETE /sessions/all",
			"GET /health",
			"GET /session/latest",
			"POST /zapier-start-login",
			"POST /zapier-complete-login",
			"GET /status/{ticket_id}",
			"POST /schedule/start",
			"POST /schedule/stop",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schemas.HealthResponse{
		OK:     true,
		Uptime: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleStartLogin(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.StartLogin(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompleteLogin(w http.ResponseWriter, r *http.Request) {
	var req schemas.CompleteLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	resp, err := s.svc.CompleteLogin(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.svc.DeleteSession(r.Context(), id) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, schemas.DeleteResponse{Deleted: 1})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.DeleteAll(r.Context()))
}

func (s *Server) handleLatestSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.svc.LatestSessionID()
	if !ok {
		writeError(w, http.StatusNotFound, "No sessions", nil)
		return
	}
	writeJSON(w, http.StatusOK, schemas.LatestSessionResponse{OK: true, SessionID: id})
}

// Queued wrappers: the Zapier caller cannot hold a connection open for a
// whole browser flow, so these return a ticket immediately and run the
// operation on the job queue.

func (s *Server) handleZapierStartLogin(w http.ResponseWriter, r *http.Request) {
	ticketID, err := s.queue.Enqueue(func(ctx context.Context) (any, error) {
		return s.svc.StartLogin(ctx)
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, schemas.TicketResponse{OK: true, TicketID: ticketID})
}

func (s *Server) handleZapierCompleteLogin(w http.ResponseWriter, r *http.Request) {
	var req schemas.CompleteLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if req.OTP == "" {
		writeError(w, http.StatusBadRequest, ErrMissingOTP.Error(), nil)
		return
	}
	ticketID, err := s.queue.Enqueue(func(ctx context.Context) (any, error) {
		return s.svc.CompleteLogin(ctx, req)
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, schemas.TicketResponse{OK: true, TicketID: ticketID})
}

func (s *Server) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	ticket, ok := s.queue.Status(chi.URLParam(r, "ticket_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Ticket not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleScheduleStart(w http.ResponseWriter, r *http.Request) {
	if s.sched.Start(s.baseCtx) {
		writeJSON(w, http.StatusOK, schemas.ScheduleResponse{OK: true, Running: true, Message: "Scheduler started"})
		return
	}
	writeJSON(w, http.StatusOK, schemas.ScheduleResponse{OK: true, Running: true, Message: "Scheduler already running"})
}

func (s *Server) handleScheduleStop(w http.ResponseWriter, r *http.Request) {
	if s.sched.Stop() {
		writeJSON(w, http.StatusOK, schemas.ScheduleResponse{OK: true, Running: false, Message: "Scheduler stopped"})
		return
	}
	writeJSON(w, http.StatusOK, schemas.ScheduleResponse{OK: true, Running: false, Message: "Scheduler not running"})
}
