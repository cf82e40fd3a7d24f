package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/phishlense/phishlense/internal/lifecycle"
	"github.com/phishlense/phishlense/internal/threat"
	"github.com/phishlense/phishlense/internal/traffic"
)

// callerHeader identifies the submitting caller for rate limiting.
const callerHeader = "X-Caller-ID"

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Internal detail stays in
// the logs; clients get a short human-readable message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *threat.ValidationError
	var rateErr *threat.RateLimitError
	var svcErr *threat.ExternalServiceError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Message, Field: validationErr.Field})
	case errors.As(err, &rateErr):
		rateLimitDenials.Inc()
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: fmt.Sprintf("rate limit exceeded for %s, retry after the current window", rateErr.Key),
		})
	case errors.Is(err, threat.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, threat.ErrSandboxConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "sandbox execution already performed for this threat"})
	case errors.As(err, &svcErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error: fmt.Sprintf("upstream %s service failed, the threat is stored in error status", svcErr.Service),
		})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

type createThreatRequest struct {
	Kind             string `json:"kind"`
	Content          string `json:"content"`
	Source           string `json:"source,omitempty"`
	ExecuteInSandbox *bool  `json:"execute_in_sandbox,omitempty"`
}

func (s *Server) handleCreateThreat(w http.ResponseWriter, r *http.Request) {
	var req createThreatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	artifact, err := s.lifecycle.CreateAndAnalyze(r.Context(), lifecycle.CreateRequest{
		Kind:             threat.Kind(req.Kind),
		Content:          req.Content,
		Source:           req.Source,
		CallerID:         callerID(r),
		ExecuteInSandbox: req.ExecuteInSandbox,
	})
	if err != nil {
		// Analysis failures still produce a stored artifact in error status;
		// return it so the caller can reanalyze later.
		var svcErr *threat.ExternalServiceError
		if errors.As(err, &svcErr) && artifact != nil {
			analysesTotal.WithLabelValues("error").Inc()
			writeJSON(w, http.StatusCreated, artifact)
			return
		}
		s.writeError(w, r, err)
		return
	}

	analysesTotal.WithLabelValues("ok").Inc()
	if artifact.SandboxExecuted {
		outcome := "ok"
		if artifact.SandboxResult != nil && !artifact.SandboxResult.Success {
			outcome = "error"
		}
		sandboxRunsTotal.WithLabelValues(outcome).Inc()
	}
	writeJSON(w, http.StatusCreated, artifact)
}

func (s *Server) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome := "ok"
	if !res.Success {
		outcome = "error"
	}
	sandboxRunsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.lifecycle.Reanalyze(r.Context(), r.PathValue("id"))
	if err != nil {
		if artifact != nil {
			// Same contract as create: the error state is the response.
			analysesTotal.WithLabelValues("error").Inc()
			writeJSON(w, http.StatusOK, artifact)
			return
		}
		s.writeError(w, r, err)
		return
	}
	analysesTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleThreatStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.lifecycle.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrafficReceive(w http.ResponseWriter, r *http.Request) {
	var sub traffic.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	ev, err := s.ingestor.Receive(r.Context(), sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetTraffic(w http.ResponseWriter, r *http.Request) {
	ev, err := s.ingestor.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleTrafficStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ingestor.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	caller := r.PathValue("caller")
	remaining, err := s.lifecycle.RateLimitStatus(r.Context(), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"caller":    caller,
		"remaining": remaining,
		"limit":     s.cfg.RateLimit.MaxRequests,
		"window_s":  s.cfg.RateLimit.WindowSeconds,
	})
}

// callerID resolves the rate-limit key for a request. Falls back to the
// remote IP so anonymous callers still share a quota per host.
func callerID(r *http.Request) string {
	if id := r.Header.Get(callerHeader); id != "" {
		return id
	}
	return r.RemoteAddr
}
