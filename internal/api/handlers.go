package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/saltyhash/docpipe/internal/config"
	"github.com/saltyhash/docpipe/internal/errors"
	"github.com/saltyhash/docpipe/internal/session"
	"github.com/saltyhash/docpipe/internal/topic"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStart accepts a pipeline configuration and starts a session. The
// stages run in the background, so acceptance is 202.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var cfg config.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := s.ctrl.Start(cfg)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

type selectRequest struct {
	TopicIDs []int `json:"topic_ids"`
}

// handleSelect accepts the human's topic selection.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.ctrl.SelectAndGenerate(req.TopicIDs); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Cancel(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// statusResponse is the polling view of the session, for clients that do
// not hold an event stream open.
type statusResponse struct {
	SessionID string                   `json:"session_id,omitempty"`
	Stage     string                   `json:"stage"`
	Topics    []topic.Topic            `json:"topics,omitempty"`
	Selection []int                    `json:"selection,omitempty"`
	Results   []session.DocumentResult `json:"results,omitempty"`
	Error     string                   `json:"error,omitempty"`
	StartedAt *time.Time               `json:"started_at,omitempty"`
	EndedAt   *time.Time               `json:"ended_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()

	resp := statusResponse{
		SessionID: snap.ID,
		Stage:     snap.Stage.String(),
		Topics:    snap.Topics,
		Selection: snap.Selection,
		Results:   snap.Results,
		Error:     snap.Error,
	}
	if !snap.StartedAt.IsZero() {
		resp.StartedAt = &snap.StartedAt
	}
	if !snap.EndedAt.IsZero() {
		resp.EndedAt = &snap.EndedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleExampleConfig serves a filled-in pipeline configuration for
// clients to prefill their forms.
func (s *Server) handleExampleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.ExamplePipeline())
}

// writeCommandError maps the error taxonomy onto HTTP statuses: invalid
// input is 400, a command the session's stage does not admit is 409.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("command failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
