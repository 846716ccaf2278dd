package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/speaknet/speakd/internal/app/jobs"
	"github.com/speaknet/speakd/internal/domain"
)

// handleListVoices proxies the provider's voice listing.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.provider.ListVoices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "PROVIDER_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": s.provider.Name(),
		"voices":   voices,
		"count":    len(voices),
	})
}

// handleCreateJob accepts a TTS job, reserving credits up front. A credit
// shortfall answers 402 with the exact shortfall, never an opaque failure.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	agentID := agentFrom(r)

	var body struct {
		Text          string                `json:"text"`
		VoiceID       string                `json:"voice_id"`
		ModelID       string                `json:"model_id"`
		OutputFormat  string                `json:"output_format"`
		VoiceSettings *domain.VoiceSettings `json:"voice_settings"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	if err := jobs.ValidateText(body.Text); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	in := jobs.CreateJobInput{
		Text:          body.Text,
		VoiceID:       body.VoiceID,
		ModelID:       body.ModelID,
		OutputFormat:  body.OutputFormat,
		VoiceSettings: body.VoiceSettings,
	}
	if in.VoiceID == "" {
		in.VoiceID = s.defaults.VoiceID
	}
	if in.ModelID == "" {
		in.ModelID = s.defaults.ModelID
	}
	if in.OutputFormat == "" {
		in.OutputFormat = s.defaults.OutputFormat
	}

	res, err := s.jobs.CreateJob(r.Context(), agentID, in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TTS_JOB_QUEUE_FAILED", err.Error())
		return
	}
	if res.InsufficientCredits {
		writeError(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
			fmt.Sprintf("Not enough characters remaining: need %d, have %d",
				res.RequiredChars, res.CharactersRemaining))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"speak_agent_id":       agentID,
		"job_id":               res.Job.ID,
		"status":               res.Job.Status,
		"estimated_chars":      res.RequiredChars,
		"characters_remaining": res.CharactersRemaining,
		"poll_url":             "/v1/tts/jobs/" + res.Job.ID,
	})
}

// handleGetJob returns a job's full record, including result or error once
// the worker finished.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), agentFrom(r), chi.URLParam(r, "id"))
	switch {
	case err == domain.ErrJobNotFound:
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job found for that id")
		return
	case err == domain.ErrNotJobOwner:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Job does not belong to this speak agent")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "JOB_FETCH_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListJobs returns the agent's recent jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	agentID := agentFrom(r)
	list, err := s.jobs.ListJobs(r.Context(), agentID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "JOB_LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"speak_agent_id": agentID,
		"jobs":           list,
		"count":          len(list),
	})
}
