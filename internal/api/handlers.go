package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/goodtune/lockedin/internal/auth"
	"github.com/goodtune/lockedin/internal/classify"
	"github.com/goodtune/lockedin/internal/usage"
)

// HealthMessage is the static payload of GET /.
const HealthMessage = "BACKEND IS RUNNING. LETS GO!"

// AnalyzeRequest is the POST /analyze body.
type AnalyzeRequest struct {
	URL      string `json:"url"`
	UserGoal string `json:"userGoal"`
	Title    string `json:"title,omitempty"`
}

// AnalyzeResponse is the POST /analyze success body.
type AnalyzeResponse struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": HealthMessage,
	})
}

// handleAnalyze validates the request, charges the caller's daily quota and
// only then asks the model.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized: missing token")
		return
	}

	var req AnalyzeRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Details: []FieldError{{Field: "body", Message: "must be a JSON object: " + err.Error()}},
		})
		return
	}

	if details := validateAnalyze(&req); len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Details: details})
		return
	}

	logger := s.logger.With().
		Str("request_id", RequestID(r.Context())).
		Str("user", userID).
		Str("url", req.URL).
		Logger()

	admission, err := s.ledger.Admit(r.Context(), userID)
	if errors.Is(err, usage.ErrQuotaExceeded) {
		setQuotaHeaders(w, s.ledger.Limit(), 0)
		writeError(w, http.StatusTooManyRequests, "Daily limit reached")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Usage ledger unavailable")
		writeError(w, http.StatusInternalServerError, "Usage ledger unavailable")
		return
	}
	setQuotaHeaders(w, s.ledger.Limit(), admission.Remaining)

	verdict, err := s.model.Classify(r.Context(), classify.Request{
		URL:   req.URL,
		Title: req.Title,
		Goal:  req.UserGoal,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Classification failed")
		writeError(w, http.StatusInternalServerError, "Classification failed")
		return
	}

	logger.Info().
		Bool("allow", verdict.Allow).
		Int("count", admission.Count).
		Msg("Page classified")

	writeJSON(w, http.StatusOK, AnalyzeResponse{Allow: verdict.Allow, Reason: verdict.Reason})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	record, err := s.ledger.Get(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user", userID).Msg("Failed to read usage")
		writeError(w, http.StatusInternalServerError, "Usage ledger unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":  record.Date,
		"count": record.Count,
		"limit": s.ledger.Limit(),
	})
}

func setQuotaHeaders(w http.ResponseWriter, limit, remaining int) {
	if limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
